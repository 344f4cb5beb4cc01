package phonetic_test

import (
	"testing"

	"github.com/Jaaaxx/DnD-Companion/internal/transcript/phonetic"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	entities := []string{"Eldrinax", "Thornwick", "Tower of Whispers", "Grizzlebane"}

	tests := []struct {
		name        string
		word        string
		wantName    string
		wantMatched bool
	}{
		{"exact name", "Eldrinax", "Eldrinax", true},
		{"phonetic mishearing", "eldrinacks", "Eldrinax", true},
		{"split into two words", "elder nacks", "Eldrinax", true},
		{"near miss spelling", "Thornwik", "Thornwick", true},
		{"multi-word entity", "tower of wispers", "Tower of Whispers", true},
		{"ordinary word left alone", "table", "", false},
		{"empty input", "  ", "", false},
	}

	m := phonetic.New(entities)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, conf, matched := m.Match(tt.word)
			if matched != tt.wantMatched {
				t.Fatalf("Match(%q) matched = %v, want %v (got %q, conf %.2f)",
					tt.word, matched, tt.wantMatched, got, conf)
			}
			if matched && got != tt.wantName {
				t.Errorf("Match(%q) = %q, want %q", tt.word, got, tt.wantName)
			}
			if !matched && got != tt.word {
				t.Errorf("Match(%q) unmatched result = %q, want input unchanged", tt.word, got)
			}
			if !matched && conf != 0 {
				t.Errorf("Match(%q) unmatched confidence = %v, want 0", tt.word, conf)
			}
		})
	}
}

func TestMatchNoEntities(t *testing.T) {
	t.Parallel()

	m := phonetic.New(nil)
	got, _, matched := m.Match("Eldrinax")
	if matched || got != "Eldrinax" {
		t.Fatalf("Match with no entities = (%q, %v), want input unchanged and false", got, matched)
	}
}
