package attribution_test

import (
	"context"
	"strings"
	"testing"

	"github.com/Jaaaxx/DnD-Companion/internal/attribution"
	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
	"github.com/Jaaaxx/DnD-Companion/internal/transcript"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
	llmmock "github.com/Jaaaxx/DnD-Companion/pkg/provider/llm/mock"
)

func roster() *campaign.Context {
	return &campaign.Context{
		Players: []campaign.Player{
			{ID: "p1", CharacterName: "Mike"},
			{ID: "p2", CharacterName: "Sarah"},
		},
	}
}

func window(texts ...string) []transcript.Segment {
	segs := make([]transcript.Segment, len(texts))
	for i, text := range texts {
		seg := transcript.NewSegment(int64(i*1000), "Speaker A", text, 1)
		segs[i] = *seg
	}
	return segs
}

func TestDue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total, last int
		want        bool
	}{
		{4, 0, true},
		{3, 0, false},
		{10, 6, true},
		{10, 7, false},
	}
	for _, tt := range tests {
		if got := attribution.Due(tt.total, tt.last); got != tt.want {
			t.Errorf("Due(%d, %d) = %v, want %v", tt.total, tt.last, got, tt.want)
		}
	}
}

func TestRunReturnsOnlyChangedSegments(t *testing.T) {
	t.Parallel()

	segs := window(
		"You enter a dim tavern",
		"I order an ale",
	)
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"speakers":[
				{"index":0,"speaker":"Narrator"},
				{"index":1,"speaker":"mike"}
			]}`,
		},
	}
	b := attribution.New(p)

	updates, err := b.Run(context.Background(), segs, roster())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %+v, want 2", updates)
	}
	if updates[0].SegmentID != segs[0].ID || updates[0].Speaker != "Narrator" {
		t.Errorf("updates[0] = %+v", updates[0])
	}
	// Casing is canonicalised to the roster spelling.
	if updates[1].Speaker != "Mike" {
		t.Errorf("updates[1].Speaker = %q, want Mike", updates[1].Speaker)
	}
}

func TestRunSkipsAlreadyCorrectSpeakers(t *testing.T) {
	t.Parallel()

	segs := window("I order an ale")
	segs[0].SpeakerName = "Mike"

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"speakers":[{"index":0,"speaker":"Mike"}]}`,
		},
	}
	updates, err := attribution.New(p).Run(context.Background(), segs, roster())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("updates = %+v, want none for unchanged speaker", updates)
	}
}

func TestRunDiscardedOnIncompleteCoverage(t *testing.T) {
	t.Parallel()

	segs := window("one", "two")
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"speakers":[{"index":0,"speaker":"Mike"}]}`,
		},
	}
	updates, err := attribution.New(p).Run(context.Background(), segs, roster())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if updates != nil {
		t.Errorf("updates = %+v, want nil for incomplete coverage", updates)
	}
}

func TestRunDiscardedOnUnknownName(t *testing.T) {
	t.Parallel()

	segs := window("one")
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"speakers":[{"index":0,"speaker":"Gandalf"}]}`,
		},
	}
	updates, err := attribution.New(p).Run(context.Background(), segs, roster())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if updates != nil {
		t.Errorf("updates = %+v, want nil for invented name", updates)
	}
}

func TestRunPromptCarriesWindowAndRoster(t *testing.T) {
	t.Parallel()

	segs := window("You see a dragon", "I run away")
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"speakers":[{"index":0,"speaker":"Narrator"},{"index":1,"speaker":"Sarah"}]}`,
		},
	}
	if _, err := attribution.New(p).Run(context.Background(), segs, roster()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := p.CompleteCalls[0].Req
	if !strings.Contains(req.SystemPrompt, "Mike") || !strings.Contains(req.SystemPrompt, "Sarah") {
		t.Error("system prompt missing roster")
	}
	msg := req.Messages[0].Content
	if !strings.Contains(msg, "[0] (Speaker A): You see a dragon") ||
		!strings.Contains(msg, "[1] (Speaker A): I run away") {
		t.Errorf("user message layout wrong:\n%s", msg)
	}
}
