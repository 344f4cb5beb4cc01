// Package llmcorrect implements the deferred, model-backed correction pass
// of the transcript pipeline.
//
// The [Corrector] sends segment text plus a short trailing context window
// to an [llm.Provider] constrained to fixing campaign entity names only.
// A length guard rejects any reply longer than max(3×input, input+50)
// characters, which catches the model echoing its context back. Accepted
// corrections are diffed word by word against the original (equal word
// counts only) so the instant dictionary can learn new wrong→right pairs
// whose replacement is a known campaign name.
//
// This stage runs exclusively in the background and never blocks segment
// ingestion. When the model reply cannot be parsed or validated, the
// corrector returns the original text unchanged rather than surfacing an
// error.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
)

const defaultTemperature = 0.1

// systemPromptTemplate is the base system prompt. The entity list is
// appended at call time so each request carries the current session roster.
const systemPromptTemplate = `You are a live transcript correction assistant for a tabletop role-playing game session.

Your task: fix entity name misspellings in the segment marked CURRENT. Earlier segments are context only.

Rules:
- ONLY correct words that appear to be misheard or misspelled versions of the known entity names listed below.
- Do NOT change ordinary English words, grammar, punctuation, or sentence structure.
- NEVER invent names that are not in the entity list.
- Return text of comparable length to the CURRENT segment; never include the context segments in your answer.
- Entity names in the corrected text must match the canonical spelling from the entity list exactly.

Known entities:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<corrected CURRENT segment>"
}

If no corrections are needed, return corrected_text equal to the input.`

// LearnedPair is a wrong→right substitution derived from an accepted
// correction, suitable for the instant dictionary.
type LearnedPair struct {
	Wrong string
	Right string
}

// llmResponse is the expected JSON structure returned by the model.
type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the model sampling temperature. Lower values produce
// more deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// Corrector uses an [llm.Provider] to correct entity name misspellings in
// segment text. It is safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a new [Corrector] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct sends text with priorContext (oldest first) to the model and
// returns the corrected text plus any wrong→right pairs learned from the
// diff. When nothing changed or the reply fails validation, the original
// text comes back with no pairs and a nil error.
//
// Context cancellation and network errors are returned as non-nil errors.
func (c *Corrector) Correct(
	ctx context.Context,
	text string,
	priorContext []string,
	entities []string,
) (string, []LearnedPair, error) {
	if len(entities) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(entities),
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: buildUserMessage(text, priorContext)},
		},
	}

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return text, nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}

	corrected, ok := parseResponse(resp.Content)
	if !ok {
		// Unparseable reply: keep the original, no error.
		return text, nil, nil
	}
	if !AcceptableLength(text, corrected) {
		return text, nil, nil
	}
	if corrected == text {
		return text, nil, nil
	}

	return corrected, DiffPairs(text, corrected, entities), nil
}

// buildSystemPrompt formats the system prompt template with the entity list.
func buildSystemPrompt(entities []string) string {
	var sb strings.Builder
	for _, e := range entities {
		sb.WriteString("- ")
		sb.WriteString(e)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// buildUserMessage lays out the context segments and the current segment.
func buildUserMessage(text string, priorContext []string) string {
	if len(priorContext) == 0 {
		return "CURRENT: " + text
	}
	var sb strings.Builder
	for _, prev := range priorContext {
		sb.WriteString("CONTEXT: ")
		sb.WriteString(prev)
		sb.WriteByte('\n')
	}
	sb.WriteString("CURRENT: ")
	sb.WriteString(text)
	return sb.String()
}

// AcceptableLength reports whether a proposed correction passes the length
// guard: at most max(3×input, input+50) characters.
func AcceptableLength(original, corrected string) bool {
	limit := 3 * len(original)
	if alt := len(original) + 50; alt > limit {
		limit = alt
	}
	return len(corrected) <= limit
}

// DiffPairs compares original and corrected word by word and returns the
// substitutions whose replacement is a known entity name. Only texts with
// equal word counts are diffed; insertions and deletions make positional
// pairing meaningless.
func DiffPairs(original, corrected string, entities []string) []LearnedPair {
	origWords := strings.Fields(original)
	corrWords := strings.Fields(corrected)
	if len(origWords) != len(corrWords) {
		return nil
	}

	known := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		known[strings.ToLower(e)] = struct{}{}
	}

	var pairs []LearnedPair
	for i := range origWords {
		if origWords[i] == corrWords[i] {
			continue
		}
		wrong := strings.Trim(origWords[i], ".,!?;:\"'")
		right := strings.Trim(corrWords[i], ".,!?;:\"'")
		if wrong == "" || right == "" || strings.EqualFold(wrong, right) {
			continue
		}
		if _, ok := known[strings.ToLower(right)]; !ok {
			continue
		}
		pairs = append(pairs, LearnedPair{Wrong: wrong, Right: right})
	}
	return pairs
}

// parseResponse unmarshals the model output, stripping markdown fences that
// some models wrap around JSON.
func parseResponse(content string) (string, bool) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", false
	}
	if r.CorrectedText == "" {
		return "", false
	}
	return r.CorrectedText, true
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
