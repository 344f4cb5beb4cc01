// Package session contains the per-connection orchestrator: the state
// machine that wires the transcription adapter, the correction and
// attribution pipeline, the merge engine, the trigger engine, the
// auto-audio director, and the health-event extractor together around one
// in-memory transcript buffer, persisting it on a timer.
//
// Concurrency model: inbound operations arrive ordered through the
// gateway's single read loop. Everything slow (model calls, catalog
// lookups, extraction) runs fire-and-forget in the background and resolves
// against the buffer by segment id, so a task finishing after a merge or
// after teardown lands on the right segment or silently no-ops. Nothing in
// the background may delay the next audio chunk.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Jaaaxx/DnD-Companion/internal/attribution"
	"github.com/Jaaaxx/DnD-Companion/internal/autoaudio"
	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
	"github.com/Jaaaxx/DnD-Companion/internal/healthevents"
	"github.com/Jaaaxx/DnD-Companion/internal/observe"
	"github.com/Jaaaxx/DnD-Companion/internal/transcript"
	"github.com/Jaaaxx/DnD-Companion/internal/transcript/llmcorrect"
	"github.com/Jaaaxx/DnD-Companion/internal/transcript/phonetic"
	"github.com/Jaaaxx/DnD-Companion/internal/trigger"
	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/stt"
	"github.com/Jaaaxx/DnD-Companion/pkg/store"
)

const (
	// defaultPersistInterval is how often the transcript buffer is flushed.
	defaultPersistInterval = 30 * time.Second

	// correctionContext is how many prior segments accompany a deferred
	// correction call.
	correctionContext = 3

	// keywordBoost is the STT recognition boost applied to campaign
	// proper nouns.
	keywordBoost = 3
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
	StatePaused State = "paused"
	StateEnded  State = "ended"
)

// Deps are the shared collaborators a session is built from. STT and LLM
// may be nil: the corresponding features are then inert rather than fatal.
type Deps struct {
	Store store.Store
	STT   stt.Provider
	LLM   llm.Provider

	// MusicSources and EffectSources feed the auto-audio resolver in
	// priority order.
	MusicSources  []catalog.Source
	EffectSources []catalog.Source

	AutoAudio       autoaudio.Settings
	PersistInterval time.Duration
	Logger          *slog.Logger
	Metrics         *observe.Metrics
}

// Session is one live game session pipeline.
type Session struct {
	id      string
	emitter Emitter
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics

	camp     *campaign.Context
	entities []string

	buffer    *transcript.Buffer
	labeler   *transcript.Labeler
	instant   *transcript.InstantCorrector
	phonetic  *phonetic.Matcher
	corrector *llmcorrect.Corrector
	batcher   *attribution.Batcher
	merger    *transcript.Merger
	triggers  *trigger.Engine
	director  *autoaudio.Director
	health    *healthevents.Extractor

	transcriber *transcriber

	bg       context.Context
	cancelBg context.CancelFunc
	wg       sync.WaitGroup

	mu          sync.Mutex
	state       State
	startedAt   time.Time
	lastAttrib  int
	persistStop chan struct{}
	stopOnce    sync.Once
}

// New creates an idle session bound to a client emitter. Call Start to
// bring it live.
func New(sessionID string, deps Deps, emitter Emitter) *Session {
	if deps.PersistInterval <= 0 {
		deps.PersistInterval = defaultPersistInterval
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          sessionID,
		emitter:     emitter,
		deps:        deps,
		log:         log.With("session", sessionID),
		metrics:     metrics,
		bg:          bg,
		cancelBg:    cancel,
		state:       StateIdle,
		persistStop: make(chan struct{}),
	}
}

// ID returns the backing session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Campaign returns the loaded campaign context. Nil before Start.
func (s *Session) Campaign() *campaign.Context {
	return s.camp
}

// Start loads the campaign context and brings the pipeline live. It is
// valid only from the idle state.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s: start from state %s", s.id, state)
	}
	s.mu.Unlock()

	camp, err := s.deps.Store.LoadSessionContext(ctx, s.id)
	if err != nil {
		return fmt.Errorf("session %s: load context: %w", s.id, err)
	}
	s.camp = camp
	s.entities = camp.EntityNames()

	s.buffer = transcript.NewBuffer()
	s.labeler = transcript.NewLabeler()
	s.instant = transcript.NewInstantCorrector()
	s.merger = transcript.NewMerger(s.buffer)
	s.triggers = trigger.New(camp.SoundMappings)
	if len(s.entities) > 0 {
		s.phonetic = phonetic.New(s.entities)
	}
	if s.deps.LLM != nil {
		s.corrector = llmcorrect.New(s.deps.LLM)
		s.batcher = attribution.New(s.deps.LLM)
	}

	resolver := autoaudio.NewResolver(s.deps.MusicSources, s.deps.EffectSources)
	s.director = autoaudio.New(s.deps.LLM, resolver, s.deps.AutoAudio, s.onDirectorEvent)
	s.director.Reset()
	s.health = healthevents.New(s.deps.LLM, s.deps.Store, camp)

	if s.deps.STT != nil {
		cfg := stt.StreamConfig{
			SampleRate: 16000,
			Channels:   1,
			Language:   "en",
		}
		for _, name := range s.entities {
			cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: name, Boost: keywordBoost})
		}
		s.transcriber = newTranscriber(s.deps.STT, cfg, s.handleUtterance, s.log)
	} else {
		s.log.Info("no stt provider configured, transcription disabled")
	}

	if err := s.deps.Store.MarkSessionStatus(ctx, s.id, store.StatusActive); err != nil {
		return fmt.Errorf("session %s: mark active: %w", s.id, err)
	}

	s.mu.Lock()
	s.state = StateActive
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.persistLoop()

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.emit(EventSessionStarted, LifecyclePayload{SessionID: s.id, State: string(StateActive)})
	s.log.Info("session started",
		"players", len(camp.Players),
		"mappings", len(camp.SoundMappings),
		"transcription", s.transcriber != nil)
	return nil
}

// ProcessAudio accepts one raw PCM chunk. While paused, chunks are
// accepted and discarded; forwarding failures are logged, never fatal.
func (s *Session) ProcessAudio(ctx context.Context, chunk []byte) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateActive || s.transcriber == nil {
		return
	}
	if err := s.transcriber.Send(ctx, chunk); err != nil && !errors.Is(err, errTranscriberClosed) {
		s.log.Debug("audio chunk dropped", "error", err)
	}
}

// Pause suspends audio forwarding without tearing anything down.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s: pause from state %s", s.id, state)
	}
	s.state = StatePaused
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.log.Warn("pause flush failed", "error", err)
	}
	if err := s.deps.Store.MarkSessionStatus(ctx, s.id, store.StatusPaused); err != nil {
		s.log.Warn("mark paused failed", "error", err)
	}
	s.emit(EventSessionPaused, LifecyclePayload{SessionID: s.id, State: string(StatePaused)})
	return nil
}

// Resume reactivates a paused session.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s: resume from state %s", s.id, state)
	}
	s.state = StateActive
	s.mu.Unlock()

	if err := s.deps.Store.MarkSessionStatus(ctx, s.id, store.StatusActive); err != nil {
		s.log.Warn("mark active failed", "error", err)
	}
	s.emit(EventSessionResumed, LifecyclePayload{SessionID: s.id, State: string(StateActive)})
	return nil
}

// End terminates the session: stop the persistence timer, close the
// transcription stream, flush synchronously, mark the record complete, and
// kick off recap generation without waiting for it.
func (s *Session) End(ctx context.Context) error {
	if !s.terminate() {
		return fmt.Errorf("session %s: already ended", s.id)
	}

	if err := s.persist(ctx); err != nil {
		s.log.Warn("final flush failed", "error", err)
	}
	if err := s.deps.Store.MarkSessionStatus(ctx, s.id, store.StatusEnded); err != nil {
		s.log.Warn("mark ended failed", "error", err)
	}

	snapshot := s.buffer.Snapshot()
	go s.generateRecap(snapshot)

	s.metrics.ActiveSessions.Add(ctx, -1)
	s.emit(EventSessionEnded, LifecyclePayload{SessionID: s.id, State: string(StateEnded)})
	s.log.Info("session ended", "segments", len(snapshot))
	return nil
}

// Disconnect handles an unexpected client drop: flush what exists and
// release resources, but generate no recap and leave the session record
// resumable.
func (s *Session) Disconnect(ctx context.Context) {
	if !s.terminate() {
		return
	}
	if err := s.persist(ctx); err != nil {
		s.log.Warn("disconnect flush failed", "error", err)
	}
	s.metrics.ActiveSessions.Add(ctx, -1)
	s.log.Info("session disconnected, left resumable")
}

// terminate moves to the ended state and releases the timer and the
// transcription stream. Reports false when already ended. Idempotent and
// order-independent with respect to pending background tasks.
func (s *Session) terminate() bool {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return false
	}
	wasIdle := s.state == StateIdle
	s.state = StateEnded
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.persistStop) })
	if s.transcriber != nil {
		s.transcriber.Close()
	}
	s.cancelBg()
	if !wasIdle {
		s.wg.Wait()
	}
	return true
}

// CorrectSpeaker applies a manual speaker correction to one segment.
func (s *Session) CorrectSpeaker(segmentID, speakerName string) error {
	if !s.buffer.UpdateSpeaker(segmentID, speakerName, true) {
		return fmt.Errorf("session %s: segment %s not found", s.id, segmentID)
	}
	s.emit(EventSpeakerUpdated, SpeakerPayload{
		SegmentID:   segmentID,
		SpeakerName: speakerName,
		IsEdited:    true,
	})
	return nil
}

// ManualTrigger fires a configured sound mapping by id.
func (s *Session) ManualTrigger(ctx context.Context, mappingID string) error {
	ev := s.triggers.ManualTrigger(mappingID)
	if ev == nil {
		return fmt.Errorf("session %s: unknown sound mapping %s", s.id, mappingID)
	}
	s.emitTrigger(ctx, "manual", ev)
	return nil
}

// StopAudio stops whatever the trigger engine is playing.
func (s *Session) StopAudio(ctx context.Context) {
	if ev := s.triggers.StopAudio(); ev != nil {
		s.emitTrigger(ctx, "manual", ev)
	}
}

// SetAutoAudio replaces the director settings mid-session.
func (s *Session) SetAutoAudio(settings autoaudio.Settings) {
	s.director.UpdateSettings(settings)
}

// OverrideScene forces a scene from a DM action. Resolution runs in the
// background like any director decision.
func (s *Session) OverrideScene(scene string) {
	s.spawn(func(ctx context.Context) {
		s.director.OverrideScene(ctx, scene)
	})
}

// ReportPlaybackFailure blacklists a track the client failed to play.
func (s *Session) ReportPlaybackFailure(trackID string) {
	s.director.ReportPlaybackFailure(trackID)
}

// ResolveHealthEvent applies a DM confirm or reject to a pending health
// event, emitting the resolved event and the updated player when HP moved.
func (s *Session) ResolveHealthEvent(ctx context.Context, eventID string, confirmed bool, modifiedValue *int) error {
	ev, player, err := s.health.Resolve(ctx, eventID, confirmed, modifiedValue)
	if err != nil {
		return err
	}

	outcome := "rejected"
	if confirmed {
		outcome = "confirmed"
	}
	s.metrics.RecordHealthEvent(ctx, outcome)
	s.emit(EventHealthEvent, healthPayload(ev, typeOf(ev), ""))
	if player != nil {
		s.emit(EventPlayerUpdated, PlayerPayload{
			ID:            player.ID,
			CharacterName: player.CharacterName,
			Hp:            player.Hp,
			MaxHp:         player.MaxHp,
		})
	}
	return nil
}

// persistLoop flushes the buffer every PersistInterval until terminated.
// A failed save is retried on the next tick, never escalated.
func (s *Session) persistLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.deps.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.persist(ctx); err != nil {
				s.log.Warn("periodic save failed, will retry", "error", err)
			}
			cancel()
		case <-s.persistStop:
			return
		}
	}
}

// persist snapshots the buffer and replaces the stored transcript.
func (s *Session) persist(ctx context.Context) error {
	if s.buffer == nil {
		return nil
	}
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	snap := s.buffer.Snapshot()
	rows := make([]store.TranscriptRow, len(snap))
	for i, seg := range snap {
		rows[i] = store.TranscriptRow{
			ID:           seg.ID,
			Index:        i,
			SpeakerLabel: seg.SpeakerLabel,
			SpeakerName:  seg.SpeakerName,
			Text:         seg.Text,
			Timestamp:    startedAt.Add(time.Duration(seg.Timestamp) * time.Millisecond),
		}
	}
	if err := s.deps.Store.SaveTranscript(ctx, s.id, rows); err != nil {
		s.metrics.SaveFailures.Add(ctx, 1)
		return err
	}
	return nil
}

// alive reports whether background results may still be applied.
func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive || s.state == StatePaused
}

// spawn runs fn on the background context, tracked for teardown. Work
// arriving after the session ended is dropped.
func (s *Session) spawn(fn func(ctx context.Context)) {
	if !s.alive() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.bg)
	}()
}

func (s *Session) emit(event string, payload any) {
	if s.emitter != nil {
		s.emitter.Emit(event, payload)
	}
}

// emitTrigger sends an audio:trigger event with the mapping's playback
// parameters inlined.
func (s *Session) emitTrigger(ctx context.Context, origin string, ev *trigger.Event) {
	s.metrics.RecordTrigger(ctx, origin, string(ev.Mapping.TriggerType))
	s.emit(EventAudioTrigger, TriggerPayload{
		MappingID:   ev.Mapping.ID,
		Action:      string(ev.Action),
		AudioURL:    ev.Mapping.AudioURL,
		Label:       ev.Mapping.Label,
		Volume:      ev.Mapping.Volume,
		Loop:        ev.Mapping.Loop,
		CrossfadeMs: ev.Mapping.CrossfadeMs,
	})
}

// typeOf derives the event type string from a persisted event's delta.
func typeOf(ev *store.HealthEvent) healthevents.EventType {
	switch {
	case ev.Delta < 0:
		return healthevents.TypeDamage
	case ev.Delta > 0:
		return healthevents.TypeHealing
	default:
		return healthevents.TypeStatus
	}
}

// healthPayload converts a persisted event into its wire payload.
func healthPayload(ev *store.HealthEvent, kind healthevents.EventType, statusEffect string) HealthEventPayload {
	value := ev.Delta
	if value < 0 {
		value = -value
	}
	return HealthEventPayload{
		ID:            ev.ID,
		PlayerID:      ev.PlayerID,
		CharacterName: ev.CharacterName,
		Type:          string(kind),
		Value:         value,
		StatusEffect:  statusEffect,
		Description:   ev.Description,
		Resolved:      ev.Resolved,
		Confirmed:     ev.Confirmed,
	}
}

// instantPass applies the learned dictionary and the phonetic entity
// matcher to freshly transcribed text. Synchronous and cheap; the deferred
// model pass handles everything subtler.
func (s *Session) instantPass(text string) string {
	out, _ := s.instant.Apply(text)
	if s.phonetic == nil {
		return out
	}
	words := strings.Fields(out)
	changed := false
	for i, w := range words {
		core := strings.Trim(w, ".,!?;:\"'")
		if len(core) < 4 {
			continue
		}
		corrected, _, ok := s.phonetic.Match(core)
		if ok && !strings.EqualFold(core, corrected) {
			words[i] = strings.Replace(w, core, corrected, 1)
			changed = true
		}
	}
	if changed {
		return strings.Join(words, " ")
	}
	return out
}
