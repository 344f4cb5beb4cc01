// Package phonetic matches misheard words against campaign entity names
// using Double Metaphone phonetic encoding with Jaro-Winkler ranking.
//
// STT engines routinely mangle fantasy proper nouns ("Eldrinax" comes back
// as "elder nacks"). The matcher computes phonetic codes for each entity up
// front; an input word whose codes overlap an entity's codes becomes a
// candidate, and candidates are ranked by Jaro-Winkler similarity on the
// original strings. When nothing overlaps phonetically, a stricter pure
// Jaro-Winkler pass catches near-miss spellings.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched entity to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// entity is one known name with its precomputed phonetic codes.
type entity struct {
	name   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Matcher matches input words against a fixed set of entity names. It is
// read-only after construction and safe for concurrent use. One Matcher is
// built per session from the campaign roster.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	entities          []entity
}

// New builds a [Matcher] for the given entity names. Entity phonetic codes
// are computed once here rather than per lookup.
func New(names []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, name := range names {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		m.entities = append(m.entities, entity{
			name:   strings.TrimSpace(name),
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
	}
	return m
}

// Match attempts to find the entity most phonetically similar to word.
//
// word may be a single word or a space-separated phrase. When matched is
// false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string) (corrected string, confidence float64, matched bool) {
	wordLower := strings.ToLower(strings.TrimSpace(word))
	if len(m.entities) == 0 || wordLower == "" {
		return word, 0, false
	}

	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	var (
		bestName     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, e := range m.entities {
		phoneticMatch := codesOverlap(inputCodes, e.codes)
		score := bestJWScore(wordTokens, e.tokens, wordLower, e.lower)

		switch {
		case phoneticMatch && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestName, bestScore, bestPhonetic = e.name, score, true
			}
		case !phoneticMatch && !bestPhonetic:
			if score >= m.fuzzyThreshold && score > bestScore {
				bestName, bestScore = e.name, score
			}
		}
	}

	if bestName != "" {
		return bestName, bestScore, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (words too short or without consonants) are
// excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the
// input and the entity across three comparisons: full strings,
// space-stripped strings, and best pairwise token score. The space-stripped
// pass handles one entity word heard as several ("elder nacks" vs
// "eldrinax").
func bestJWScore(inputTokens, entityTokens []string, inputFull, entityFull string) float64 {
	score := matchr.JaroWinkler(inputFull, entityFull, false)

	if len(inputTokens) > 1 || len(entityTokens) > 1 {
		concatIn := strings.Join(inputTokens, "")
		concatEnt := strings.Join(entityTokens, "")
		if s := matchr.JaroWinkler(concatIn, concatEnt, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, et := range entityTokens {
			if s := matchr.JaroWinkler(it, et, false); s > score {
				score = s
			}
		}
	}

	return score
}
