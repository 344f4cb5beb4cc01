package session

import "github.com/Jaaaxx/DnD-Companion/pkg/catalog"

// Outbound event names on the client channel.
const (
	EventTranscriptSegment   = "transcript:segment"
	EventTranscriptCorrected = "transcript:corrected"
	EventTranscriptMerged    = "transcript:merged"
	EventSpeakerUpdated      = "speaker:updated"
	EventAudioTrigger        = "audio:trigger"
	EventAutoAudioPlay       = "auto-audio:play"
	EventSceneDetected       = "scene:detected"
	EventHealthEvent         = "health:event"
	EventPlayerUpdated       = "player:updated"
	EventSessionStarted      = "session:started"
	EventSessionPaused       = "session:paused"
	EventSessionResumed      = "session:resumed"
	EventSessionEnded        = "session:ended"
	EventError               = "error"
)

// Emitter delivers outbound events to the connected client. Implementations
// must not block; the gateway buffers and serializes delivery.
type Emitter interface {
	Emit(event string, payload any)
}

// SegmentPayload is the transcript:segment payload.
type SegmentPayload struct {
	ID           string  `json:"id"`
	Timestamp    int64   `json:"timestamp"`
	SpeakerLabel string  `json:"speakerLabel"`
	SpeakerName  string  `json:"speakerName,omitempty"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	IsEdited     bool    `json:"isEdited"`
}

// CorrectedPayload is the transcript:corrected payload.
type CorrectedPayload struct {
	SegmentID string `json:"segmentId"`
	Text      string `json:"text"`
}

// MergedPayload is the transcript:merged payload.
type MergedPayload struct {
	SurvivorID string `json:"survivorId"`
	AbsorbedID string `json:"absorbedId"`
	Text       string `json:"text"`
}

// SpeakerPayload is the speaker:updated payload.
type SpeakerPayload struct {
	SegmentID   string `json:"segmentId"`
	SpeakerName string `json:"speakerName"`
	IsEdited    bool   `json:"isEdited"`
}

// TriggerPayload is the audio:trigger payload, carrying the mapping's
// playback parameters so the client needs no extra lookup.
type TriggerPayload struct {
	MappingID   string  `json:"mappingId"`
	Action      string  `json:"action"`
	AudioURL    string  `json:"audioUrl,omitempty"`
	Label       string  `json:"label,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
	Loop        bool    `json:"loop"`
	CrossfadeMs int     `json:"crossfadeMs,omitempty"`
}

// AutoAudioPayload is the auto-audio:play payload.
type AutoAudioPayload struct {
	Kind   string        `json:"kind"`
	Track  catalog.Track `json:"track"`
	Scene  string        `json:"scene,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// SceneDetectedPayload is the scene:detected payload.
type SceneDetectedPayload struct {
	Scene      string  `json:"scene"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// HealthEventPayload is the health:event payload. Value is the unsigned
// HP magnitude; Type carries the direction.
type HealthEventPayload struct {
	ID            string `json:"id"`
	PlayerID      string `json:"playerId"`
	CharacterName string `json:"characterName"`
	Type          string `json:"type"`
	Value         int    `json:"value,omitempty"`
	StatusEffect  string `json:"statusEffect,omitempty"`
	Description   string `json:"description"`
	Resolved      bool   `json:"resolved"`
	Confirmed     bool   `json:"confirmed"`
}

// PlayerPayload is the player:updated payload.
type PlayerPayload struct {
	ID            string `json:"id"`
	CharacterName string `json:"characterName"`
	Hp            int    `json:"hp"`
	MaxHp         int    `json:"maxHp"`
}

// LifecyclePayload is the payload for session lifecycle events.
type LifecyclePayload struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

// ErrorPayload is the error event payload: one human-readable message per
// failed operation.
type ErrorPayload struct {
	Message string `json:"message"`
}
