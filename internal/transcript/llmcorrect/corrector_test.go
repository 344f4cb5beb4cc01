package llmcorrect_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Jaaaxx/DnD-Companion/internal/transcript/llmcorrect"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
	llmmock "github.com/Jaaaxx/DnD-Companion/pkg/provider/llm/mock"
)

var entities = []string{"Eldrinax", "Thornwick"}

func TestCorrectAppliesModelReply(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "Eldrinax draws his sword"}`,
		},
	}
	c := llmcorrect.New(p)

	got, pairs, err := c.Correct(context.Background(), "eldrinacks draws his sword", nil, entities)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "Eldrinax draws his sword" {
		t.Errorf("corrected = %q", got)
	}
	if len(pairs) != 1 || pairs[0].Wrong != "eldrinacks" || pairs[0].Right != "Eldrinax" {
		t.Errorf("pairs = %+v, want [{eldrinacks Eldrinax}]", pairs)
	}
}

func TestCorrectSendsContextWindow(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"corrected_text": "same text"}`},
	}
	c := llmcorrect.New(p)

	_, _, err := c.Correct(context.Background(), "same text",
		[]string{"first segment", "second segment"}, entities)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}

	req := p.CompleteCalls[0].Req
	msg := req.Messages[0].Content
	if !strings.Contains(msg, "CONTEXT: first segment") ||
		!strings.Contains(msg, "CONTEXT: second segment") ||
		!strings.Contains(msg, "CURRENT: same text") {
		t.Errorf("user message missing context layout:\n%s", msg)
	}
	if !strings.Contains(req.SystemPrompt, "Eldrinax") {
		t.Error("system prompt missing entity list")
	}
}

func TestCorrectRejectsOverlongReply(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Eldrinax attacks the dragon with fury. ", 20)
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "` + long + `"}`,
		},
	}
	c := llmcorrect.New(p)

	input := "he attacks"
	got, pairs, err := c.Correct(context.Background(), input, nil, entities)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != input {
		t.Errorf("overlong reply accepted: %q", got)
	}
	if pairs != nil {
		t.Errorf("pairs = %+v, want nil", pairs)
	}
}

func TestCorrectGracefulOnMalformedReply(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "I think the text is fine!"},
	}
	c := llmcorrect.New(p)

	got, _, err := c.Correct(context.Background(), "original", nil, entities)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "original" {
		t.Errorf("malformed reply changed text: %q", got)
	}
}

func TestCorrectPropagatesProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	p := &llmmock.Provider{CompleteErr: boom}
	c := llmcorrect.New(p)

	got, _, err := c.Correct(context.Background(), "original", nil, entities)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if got != "original" {
		t.Errorf("text on error = %q, want original", got)
	}
}

func TestCorrectSkipsWithoutEntities(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{}
	c := llmcorrect.New(p)

	got, _, err := c.Correct(context.Background(), "some text", nil, nil)
	if err != nil || got != "some text" {
		t.Fatalf("Correct without entities = (%q, %v)", got, err)
	}
	if p.CallCount() != 0 {
		t.Errorf("model called %d times, want 0", p.CallCount())
	}
}

func TestAcceptableLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		original  string
		corrected string
		want      bool
	}{
		{"identical", "abc", "abc", true},
		{"slightly longer", "abcdefghij", strings.Repeat("x", 30), true},
		{"short input within +50", "ab", strings.Repeat("x", 52), true},
		{"short input beyond +50", "ab", strings.Repeat("x", 53), false},
		{"long input within 3x", strings.Repeat("x", 100), strings.Repeat("y", 300), true},
		{"long input beyond 3x", strings.Repeat("x", 100), strings.Repeat("y", 301), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := llmcorrect.AcceptableLength(tt.original, tt.corrected); got != tt.want {
				t.Errorf("AcceptableLength(%d, %d chars) = %v, want %v",
					len(tt.original), len(tt.corrected), got, tt.want)
			}
		})
	}
}

func TestDiffPairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		original  string
		corrected string
		want      []llmcorrect.LearnedPair
	}{
		{
			name:      "single substitution to known entity",
			original:  "then eldrinacks attacked",
			corrected: "then Eldrinax attacked",
			want:      []llmcorrect.LearnedPair{{Wrong: "eldrinacks", Right: "Eldrinax"}},
		},
		{
			name:      "substitution to unknown word ignored",
			original:  "the gobblin attacked",
			corrected: "the goblin attacked",
			want:      nil,
		},
		{
			name:      "unequal word counts ignored",
			original:  "elder nacks attacked",
			corrected: "Eldrinax attacked",
			want:      nil,
		},
		{
			name:      "punctuation stripped",
			original:  "hello eldrinacks!",
			corrected: "hello Eldrinax!",
			want:      []llmcorrect.LearnedPair{{Wrong: "eldrinacks", Right: "Eldrinax"}},
		},
		{
			name:      "case-only difference ignored",
			original:  "ELDRINAX waves",
			corrected: "Eldrinax waves",
			want:      nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := llmcorrect.DiffPairs(tt.original, tt.corrected, entities)
			if len(got) != len(tt.want) {
				t.Fatalf("DiffPairs = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("DiffPairs[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
