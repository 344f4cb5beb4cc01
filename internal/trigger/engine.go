// Package trigger implements the DM-configured audio trigger engine: it
// matches transcript text against precompiled keyword patterns, reacts to
// scene changes, and serves explicit manual requests, all against a single
// "currently playing" slot.
//
// The engine is a two-state machine: idle, or playing one mapping. Any
// trigger that fires while something is already playing is downgraded to a
// crossfade so two tracks never cut over each other abruptly.
package trigger

import (
	"regexp"
	"strings"
	"sync"

	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
)

// Action is the playback instruction carried by an [Event].
type Action string

const (
	ActionPlay      Action = "play"
	ActionStop      Action = "stop"
	ActionCrossfade Action = "crossfade"
)

// sceneConfidenceFloor is the minimum classification confidence for a scene
// change to fire a scene-type mapping.
const sceneConfidenceFloor = 0.6

// Event is one playback decision. Derived, never persisted.
type Event struct {
	Mapping campaign.SoundMapping
	Action  Action
}

// keywordPattern pairs a mapping with its compiled matcher.
type keywordPattern struct {
	mapping campaign.SoundMapping
	re      *regexp.Regexp
}

// Engine holds the precompiled trigger set for one session. Safe for
// concurrent use.
type Engine struct {
	keywords []keywordPattern
	scenes   map[string]campaign.SoundMapping
	byID     map[string]campaign.SoundMapping

	mu      sync.Mutex
	playing string // mapping id, empty when idle
}

// New compiles the campaign's sound mappings into an Engine. Keyword
// trigger values are compiled as case-insensitive regular expressions;
// values that fail to compile fall back to an escaped literal match.
// Mapping-list order is preserved for first-match-wins evaluation.
func New(mappings []campaign.SoundMapping) *Engine {
	e := &Engine{
		scenes: make(map[string]campaign.SoundMapping),
		byID:   make(map[string]campaign.SoundMapping),
	}
	for _, m := range mappings {
		e.byID[m.ID] = m
		switch m.TriggerType {
		case campaign.TriggerKeyword:
			re, err := regexp.Compile("(?i)" + m.TriggerValue)
			if err != nil {
				re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(m.TriggerValue))
			}
			e.keywords = append(e.keywords, keywordPattern{mapping: m, re: re})
		case campaign.TriggerScene:
			e.scenes[strings.ToLower(m.TriggerValue)] = m
		}
	}
	return e
}

// CheckKeywords tests the text against every keyword mapping in list order
// and fires the first match. At most one keyword trigger fires per segment.
// Returns nil when nothing matched.
func (e *Engine) CheckKeywords(text string) *Event {
	for _, kp := range e.keywords {
		if kp.re.MatchString(text) {
			return e.fire(kp.mapping)
		}
	}
	return nil
}

// HandleSceneChange fires the scene-type mapping for the given scene label,
// if one exists, the confidence clears the floor, and that mapping is not
// already playing. The slot rules apply: play when idle, crossfade when
// switching away from something else.
func (e *Engine) HandleSceneChange(scene string, confidence float64) *Event {
	if confidence < sceneConfidenceFloor {
		return nil
	}
	m, ok := e.scenes[strings.ToLower(scene)]
	if !ok {
		return nil
	}

	e.mu.Lock()
	if e.playing == m.ID {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.fire(m)
}

// ManualTrigger fires the mapping with the given id regardless of its
// trigger type. Returns nil for unknown ids.
func (e *Engine) ManualTrigger(mappingID string) *Event {
	m, ok := e.byID[mappingID]
	if !ok {
		return nil
	}
	return e.fire(m)
}

// StopAudio emits a stop for whatever is playing and clears the slot.
// Returns nil when the engine is idle.
func (e *Engine) StopAudio() *Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing == "" {
		return nil
	}
	m := e.byID[e.playing]
	e.playing = ""
	return &Event{Mapping: m, Action: ActionStop}
}

// Playing returns the currently playing mapping id, empty when idle.
func (e *Engine) Playing() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// fire transitions the slot to the given mapping. While something else is
// already playing the action is downgraded to crossfade.
func (e *Engine) fire(m campaign.SoundMapping) *Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	action := ActionPlay
	if e.playing != "" {
		action = ActionCrossfade
	}
	e.playing = m.ID
	return &Event{Mapping: m, Action: action}
}
