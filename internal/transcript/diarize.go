package transcript

import (
	"sync"

	"github.com/Jaaaxx/DnD-Companion/pkg/provider/stt"
)

// Labeler maps provider numeric speaker indices to stable letter labels
// ("Speaker A", "Speaker B", ...). Labels are assigned in first-seen order
// and cycle after Z, so index 26 maps back to "Speaker A". Safe for
// concurrent use.
type Labeler struct {
	mu     sync.Mutex
	labels map[int]string
	next   int
}

// NewLabeler returns an empty Labeler.
func NewLabeler() *Labeler {
	return &Labeler{labels: make(map[int]string)}
}

// Label returns the letter label for a provider speaker index, assigning a
// new one on first sight.
func (l *Labeler) Label(speakerIndex int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if label, ok := l.labels[speakerIndex]; ok {
		return label
	}
	label := "Speaker " + string(rune('A'+l.next%26))
	l.labels[speakerIndex] = label
	l.next++
	return label
}

// utteranceRun is a contiguous run of words spoken by one speaker index.
type utteranceRun struct {
	speaker int
	words   []stt.Word
}

// SplitUtterance breaks an utterance into per-speaker sub-utterances at
// word-level speaker boundaries. Providers sometimes merge rapid speaker
// turns into one utterance; the per-word indices are the only record of the
// split. An utterance with a single speaker (or no word detail) comes back
// as one piece carrying the original text.
func SplitUtterance(u stt.Utterance) []stt.Utterance {
	if len(u.Words) == 0 {
		return []stt.Utterance{u}
	}

	var runs []utteranceRun
	for _, w := range u.Words {
		if n := len(runs); n > 0 && runs[n-1].speaker == w.Speaker {
			runs[n-1].words = append(runs[n-1].words, w)
			continue
		}
		runs = append(runs, utteranceRun{speaker: w.Speaker, words: []stt.Word{w}})
	}

	if len(runs) == 1 {
		return []stt.Utterance{u}
	}

	out := make([]stt.Utterance, 0, len(runs))
	for _, r := range runs {
		text := joinWords(r.words)
		if text == "" {
			continue
		}
		sub := stt.Utterance{
			Text:       text,
			Confidence: u.Confidence,
			Speaker:    r.speaker,
			Words:      r.words,
			Start:      r.words[0].Start,
			Duration:   r.words[len(r.words)-1].End - r.words[0].Start,
		}
		out = append(out, sub)
	}
	return out
}

func joinWords(words []stt.Word) string {
	var sb []byte
	for i, w := range words {
		if i > 0 {
			sb = append(sb, ' ')
		}
		sb = append(sb, w.Word...)
	}
	return string(sb)
}
