package transcript

import (
	"regexp"
	"sync"
)

// InstantCorrector applies previously learned wrong→right name pairs to
// segment text synchronously, before the segment is ever shown to the user.
// It sits in the audio-to-segment hot path, so Apply is pure string work
// with precompiled patterns. Pairs are learned over the session by the
// deferred correction pass diffing accepted model corrections.
//
// Safe for concurrent use.
type InstantCorrector struct {
	mu    sync.RWMutex
	pairs []learnedPair
	known map[string]struct{}
}

type learnedPair struct {
	wrong   string
	right   string
	pattern *regexp.Regexp
}

// NewInstantCorrector returns an empty corrector.
func NewInstantCorrector() *InstantCorrector {
	return &InstantCorrector{known: make(map[string]struct{})}
}

// Learn registers a wrong→right replacement. The wrong form is matched
// case-insensitively on word boundaries. Re-learning a known wrong form is
// a no-op. Returns false when the pair could not be registered (empty parts
// or identical forms).
func (c *InstantCorrector) Learn(wrong, right string) bool {
	if wrong == "" || right == "" || wrong == right {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.known[wrong]; ok {
		return false
	}

	pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(wrong) + `\b`)
	if err != nil {
		return false
	}
	c.known[wrong] = struct{}{}
	c.pairs = append(c.pairs, learnedPair{wrong: wrong, right: right, pattern: pattern})
	return true
}

// Apply replaces every learned wrong form in text with its canonical right
// form and reports whether anything changed.
func (c *InstantCorrector) Apply(text string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	changed := false
	for _, p := range c.pairs {
		if !p.pattern.MatchString(text) {
			continue
		}
		text = p.pattern.ReplaceAllString(text, p.right)
		changed = true
	}
	return text, changed
}

// PairCount returns the number of learned pairs.
func (c *InstantCorrector) PairCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pairs)
}
