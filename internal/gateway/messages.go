package gateway

import "encoding/json"

// Inbound operation names on the control channel. Audio arrives as binary
// frames, everything else as JSON text envelopes.
const (
	opSessionStart  = "session:start"
	opSessionPause  = "session:pause"
	opSessionResume = "session:resume"
	opSessionEnd    = "session:end"
	opSpeakerUpdate = "speaker:correct"
	opTriggerSound  = "audio:trigger"
	opStopAudio     = "audio:stop"
	opAutoSettings  = "auto-audio:settings"
	opSceneOverride = "scene:override"
	opPlaybackFail  = "playback:failure"
	opHealthResolve = "health:resolve"
)

// envelope is the wire frame for every text message, both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startPayload struct {
	SessionID string `json:"sessionId"`
}

type speakerCorrectPayload struct {
	SegmentID   string `json:"segmentId"`
	SpeakerName string `json:"speakerName"`
}

type triggerPayload struct {
	MappingID string `json:"mappingId"`
}

type autoSettingsPayload struct {
	Enabled         bool    `json:"enabled"`
	EffectFrequency float64 `json:"effectFrequency"`
	SceneMusic      bool    `json:"sceneMusic"`
}

type sceneOverridePayload struct {
	Scene string `json:"scene"`
}

type playbackFailPayload struct {
	TrackID string `json:"trackId"`
}

type healthResolvePayload struct {
	EventID       string `json:"eventId"`
	Confirmed     bool   `json:"confirmed"`
	ModifiedValue *int   `json:"modifiedValue,omitempty"`
}
