// Package attribution retroactively assigns speaker names to transcript
// segments using a language model over a rolling window.
//
// Diarization only yields anonymous letters ("Speaker A"). The [Batcher]
// periodically sends a window of recent segments plus the campaign roster
// to the model and maps letters to actual people: player names, or the DM
// as narrator. A run fires every [BatchThreshold] new segments and covers
// at most the trailing [WindowSize] segments so earlier mistakes get fixed
// as later context clarifies them, without unbounded cost growth.
//
// Runs execute in the background and can overlap each other and the merge
// engine, so results are returned as per-segment-id updates; the caller
// applies them through the buffer where late updates on absorbed segments
// degrade to no-ops.
package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
	"github.com/Jaaaxx/DnD-Companion/internal/transcript"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
)

const (
	// BatchThreshold is how many new segments accumulate before a run.
	BatchThreshold = 4

	// WindowSize caps how many trailing segments one run re-evaluates.
	WindowSize = 16

	defaultTemperature = 0.2
)

const systemPromptTemplate = `You are a speaker attribution assistant for a tabletop role-playing game session transcript.

Assign the correct speaker to every numbered segment. Speakers are either the narrator (the Dungeon Master) or one of the player characters' controllers.

Attribution rules:
- Third-person descriptive narration, or directly addressing the players as "you", means the narrator is speaking. Use the name "%s".
- First-person singular actions ("I attack", "I search the chest") mean a player character's controller is speaking. Use the character's name.
- Out-of-character table talk about rules or dice belongs to whichever player context fits best; keep the current speaker when genuinely unclear.

Known player characters:
%s

You MUST return a speaker for every index listed in the input.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "speakers": [
    {"index": 0, "speaker": "<name>"}
  ]
}`

// NarratorName is the canonical speaker name used for DM narration.
const NarratorName = "Narrator"

// Update is one per-segment attribution result. Speaker differs from the
// segment's speaker at request time only for segments worth updating.
type Update struct {
	SegmentID string
	Speaker   string
}

// modelResponse is the expected JSON structure returned by the model.
type modelResponse struct {
	Speakers []struct {
		Index   int    `json:"index"`
		Speaker string `json:"speaker"`
	} `json:"speakers"`
}

// Option is a functional option for configuring a [Batcher].
type Option func(*Batcher)

// WithTemperature sets the model sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(b *Batcher) {
		b.temperature = temp
	}
}

// Batcher re-evaluates speaker assignment over windows of recent segments.
// Safe for concurrent use; it holds no per-run state.
type Batcher struct {
	llm         llm.Provider
	temperature float64
}

// New returns a [Batcher] backed by the given model provider.
func New(provider llm.Provider, opts ...Option) *Batcher {
	b := &Batcher{llm: provider, temperature: defaultTemperature}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Due reports whether enough new segments accumulated since the last run.
func Due(total, lastRunIndex int) bool {
	return total-lastRunIndex >= BatchThreshold
}

// Run sends the window (oldest first) to the model and returns updates for
// exactly the segments whose returned speaker differs from their current
// effective speaker. The whole run is discarded when the model fails to
// cover every index, returns an unknown name, or replies with malformed
// JSON.
func (b *Batcher) Run(ctx context.Context, window []transcript.Segment, cc *campaign.Context) ([]Update, error) {
	if len(window) == 0 {
		return nil, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(cc),
		Temperature:  b.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: buildUserMessage(window)},
		},
	}

	resp, err := b.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("attribution: complete: %w", err)
	}

	byIndex, ok := parseResponse(resp.Content, len(window))
	if !ok {
		return nil, nil
	}

	canonical := validNames(cc)
	var updates []Update
	for i, seg := range window {
		speaker, known := canonical[strings.ToLower(byIndex[i])]
		if !known {
			// One invented name poisons the run.
			return nil, nil
		}
		if speaker == seg.EffectiveSpeaker() {
			continue
		}
		updates = append(updates, Update{SegmentID: seg.ID, Speaker: speaker})
	}
	return updates, nil
}

// buildSystemPrompt formats the attribution prompt with the roster.
func buildSystemPrompt(cc *campaign.Context) string {
	var sb strings.Builder
	for _, p := range cc.Players {
		sb.WriteString("- ")
		sb.WriteString(p.CharacterName)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		sb.WriteString("- (none listed)\n")
	}
	return fmt.Sprintf(systemPromptTemplate, NarratorName, sb.String())
}

// buildUserMessage lays out the window as numbered lines.
func buildUserMessage(window []transcript.Segment) string {
	var sb strings.Builder
	for i, seg := range window {
		fmt.Fprintf(&sb, "[%d] (%s): %s\n", i, seg.EffectiveSpeaker(), seg.Text)
	}
	return sb.String()
}

// validNames maps lowercased acceptable speaker names to their canonical
// roster spelling.
func validNames(cc *campaign.Context) map[string]string {
	valid := make(map[string]string, len(cc.Players)+1)
	valid[strings.ToLower(NarratorName)] = NarratorName
	for _, p := range cc.Players {
		valid[strings.ToLower(p.CharacterName)] = p.CharacterName
	}
	return valid
}

// parseResponse unmarshals the model reply and checks that every index in
// [0, windowLen) is covered exactly.
func parseResponse(content string, windowLen int) (map[int]string, bool) {
	cleaned := stripMarkdown(content)

	var r modelResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, false
	}

	byIndex := make(map[int]string, len(r.Speakers))
	for _, s := range r.Speakers {
		if s.Index < 0 || s.Index >= windowLen || s.Speaker == "" {
			return nil, false
		}
		byIndex[s.Index] = s.Speaker
	}
	if len(byIndex) != windowLen {
		return nil, false
	}
	return byIndex, true
}

// stripMarkdown removes optional markdown code fences (```json ... ```).
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
