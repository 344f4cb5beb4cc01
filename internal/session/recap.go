package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Jaaaxx/DnD-Companion/internal/transcript"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
)

const recapTimeout = 2 * time.Minute

// recapMaxChars truncates very long transcripts from the front, keeping
// the most recent material within a safe prompt size.
const recapMaxChars = 48000

const recapPrompt = `You write session recaps for a tabletop role-playing game. Summarize the transcript below into a recap the party can read before the next session: major plot beats, combat outcomes, NPCs met, loot, and unresolved hooks. Write 2-4 short paragraphs of flowing prose. Do not invent events that are not in the transcript.`

// generateRecap produces and stores the end-of-session recap. Runs
// fire-and-forget after End with its own deadline; any failure is logged
// and dropped, the session is already complete.
func (s *Session) generateRecap(snapshot []transcript.Segment) {
	if s.deps.LLM == nil || len(snapshot) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recapTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.deps.LLM.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: recapPrompt,
		Temperature:  0.6,
		Messages: []llm.Message{
			{Role: "user", Content: formatTranscript(snapshot)},
		},
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "recap")
		s.log.Warn("recap generation failed", "error", err)
		return
	}
	recap := strings.TrimSpace(resp.Content)
	if recap == "" {
		return
	}
	if err := s.deps.Store.SaveRecap(ctx, s.id, recap); err != nil {
		s.log.Warn("recap save failed", "error", err)
		return
	}
	s.log.Info("recap stored", "chars", len(recap))
}

// formatTranscript renders segments as speaker-prefixed lines, truncated
// from the front when oversized.
func formatTranscript(snapshot []transcript.Segment) string {
	var sb strings.Builder
	for i := range snapshot {
		fmt.Fprintf(&sb, "%s: %s\n", snapshot[i].EffectiveSpeaker(), snapshot[i].Text)
	}
	text := sb.String()
	if len(text) > recapMaxChars {
		text = text[len(text)-recapMaxChars:]
		if at := strings.IndexByte(text, '\n'); at >= 0 {
			text = text[at+1:]
		}
	}
	return text
}
