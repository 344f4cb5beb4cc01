package session

import (
	"context"

	"github.com/Jaaaxx/DnD-Companion/internal/attribution"
	"github.com/Jaaaxx/DnD-Companion/internal/autoaudio"
	"github.com/Jaaaxx/DnD-Companion/internal/healthevents"
	"github.com/Jaaaxx/DnD-Companion/internal/transcript"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/stt"
)

// handleUtterance converts one finalized provider utterance into transcript
// segments and fans out the background pipeline. Runs on the transcriber's
// consumer goroutine; everything here must stay fast, with the model calls
// pushed to spawn.
func (s *Session) handleUtterance(u stt.Utterance) {
	if !s.alive() {
		return
	}
	s.metrics.STTUtteranceDuration.Record(s.bg, u.Duration.Seconds())

	for _, part := range transcript.SplitUtterance(u) {
		label := s.labeler.Label(part.Speaker)
		text := s.instantPass(part.Text)
		seg := transcript.NewSegment(part.Start.Milliseconds(), label, text, part.Confidence)
		s.buffer.Append(seg)

		s.metrics.RecordSegment(s.bg, "ingested")
		s.emit(EventTranscriptSegment, SegmentPayload{
			ID:           seg.ID,
			Timestamp:    seg.Timestamp,
			SpeakerLabel: seg.SpeakerLabel,
			Text:         seg.Text,
			Confidence:   seg.Confidence,
		})

		if ev := s.triggers.CheckKeywords(text); ev != nil {
			s.emitTrigger(s.bg, "keyword", ev)
		}

		segID, segText := seg.ID, seg.Text
		if s.corrector != nil {
			s.spawn(func(ctx context.Context) {
				s.correctAsync(ctx, segID, segText)
			})
		}
		s.spawn(func(ctx context.Context) {
			s.director.ProcessSegment(ctx, segText)
		})
		if healthevents.ShouldExtract(text) {
			s.spawn(func(ctx context.Context) {
				s.extractHealth(ctx, segText)
			})
		}
		s.maybeAttribute()
	}
}

// correctAsync runs the deferred model correction for one segment and
// applies the result by id, compare-and-swap against the text captured at
// dispatch. A segment merged away in the meantime makes the update a
// silent no-op; a segment that became a merge survivor (its text now holds
// absorbed segments too) drops the stale correction instead of overwriting
// the accumulated text. Accepted diffs feed the instant dictionary so the
// same mishearing is fixed synchronously from then on.
func (s *Session) correctAsync(ctx context.Context, segID, text string) {
	prior := s.priorContext(segID)
	corrected, pairs, err := s.corrector.Correct(ctx, text, prior, s.entities)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "correction")
		s.log.Debug("correction call failed", "error", err)
		return
	}
	if corrected == text || !s.alive() {
		return
	}
	if !s.buffer.CompareAndSwapText(segID, text, corrected) {
		return
	}
	for _, p := range pairs {
		if s.instant.Learn(p.Wrong, p.Right) {
			s.log.Debug("learned correction pair", "wrong", p.Wrong, "right", p.Right)
		}
	}
	s.metrics.RecordSegment(ctx, "corrected")
	s.emit(EventTranscriptCorrected, CorrectedPayload{SegmentID: segID, Text: corrected})
}

// priorContext returns the texts of up to correctionContext segments
// preceding segID, oldest first.
func (s *Session) priorContext(segID string) []string {
	snap := s.buffer.Snapshot()
	at := -1
	for i := range snap {
		if snap[i].ID == segID {
			at = i
			break
		}
	}
	if at <= 0 {
		return nil
	}
	from := at - correctionContext
	if from < 0 {
		from = 0
	}
	texts := make([]string, 0, at-from)
	for _, seg := range snap[from:at] {
		texts = append(texts, seg.Text)
	}
	return texts
}

// maybeAttribute starts an attribution run when enough new segments
// accumulated, then a merge pass over the results. The run resolves by
// segment id so newer appends during the model call are harmless.
func (s *Session) maybeAttribute() {
	if s.batcher == nil {
		return
	}
	s.mu.Lock()
	total := s.buffer.Len()
	if !attribution.Due(total, s.lastAttrib) {
		s.mu.Unlock()
		return
	}
	s.lastAttrib = total
	s.mu.Unlock()

	window := s.buffer.Last(attribution.WindowSize)
	s.spawn(func(ctx context.Context) {
		updates, err := s.batcher.Run(ctx, window, s.camp)
		if err != nil {
			s.metrics.RecordProviderError(ctx, "llm", "attribution")
			s.log.Debug("attribution run failed", "error", err)
			return
		}
		if !s.alive() {
			return
		}
		for _, u := range updates {
			// Model attributions never set IsEdited; that flag is reserved
			// for manual DM corrections (CorrectSpeaker).
			if s.buffer.UpdateSpeaker(u.SegmentID, u.Speaker, false) {
				s.metrics.RecordSegment(ctx, "attributed")
				s.emit(EventSpeakerUpdated, SpeakerPayload{
					SegmentID:   u.SegmentID,
					SpeakerName: u.Speaker,
				})
			}
		}
		for _, m := range s.merger.Pass() {
			s.metrics.RecordSegment(ctx, "merged")
			s.emit(EventTranscriptMerged, MergedPayload{
				SurvivorID: m.SurvivorID,
				AbsorbedID: m.AbsorbedID,
				Text:       m.NewText,
			})
		}
	})
}

// extractHealth runs the gated health-event extraction for one segment.
func (s *Session) extractHealth(ctx context.Context, text string) {
	events, err := s.health.Extract(ctx, text)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "health")
		s.log.Debug("health extraction failed", "error", err)
		return
	}
	if !s.alive() {
		return
	}
	for _, ev := range events {
		s.metrics.RecordHealthEvent(ctx, "detected")
		s.emit(EventHealthEvent, healthPayload(&ev.HealthEvent, ev.Type, ev.StatusEffect))
	}
}

// onDirectorEvent receives resolved auto-audio decisions. Scene changes
// additionally consult the trigger engine, since the DM may have mapped a
// sound to the detected scene label.
func (s *Session) onDirectorEvent(ev autoaudio.Event) {
	if !s.alive() {
		return
	}
	switch ev.Kind {
	case autoaudio.KindScene:
		s.emit(EventSceneDetected, SceneDetectedPayload{
			Scene:      ev.Scene,
			Confidence: ev.Confidence,
			Reason:     ev.Reason,
		})
		if tev := s.triggers.HandleSceneChange(ev.Scene, ev.Confidence); tev != nil {
			s.emitTrigger(s.bg, "scene", tev)
		}
		s.metrics.RecordTrigger(s.bg, "auto", "music")
	case autoaudio.KindEffect:
		s.metrics.RecordTrigger(s.bg, "auto", "effect")
	}
	s.emit(EventAutoAudioPlay, AutoAudioPayload{
		Kind:   string(ev.Kind),
		Track:  ev.Track,
		Scene:  ev.Scene,
		Reason: ev.Reason,
	})
}
