// Package autoaudio implements the AI-directed ambient audio layer: it
// watches the live transcript and decides, without any DM action, when the
// scene music should change or a sound effect should fire.
//
// Two analysis paths feed the same resolution machinery. The fast path is
// a zero-cost regex library over the incoming segment (initiative calls,
// spellcasting, doors, thunder, and so on). The slow path asks a language
// model every third segment whether the mood warrants a scene change or an
// effect. Both paths are rate limited and probability gated so the table
// is not drowned in audio, and resolved intents go through the [Resolver]
// which turns a search query into an actual reachable track.
package autoaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
)

const (
	// windowSize is how many trailing segment texts feed the slow path.
	windowSize = 10

	// suggestEvery bounds slow-path cost: one model call per N segments.
	suggestEvery = 3

	// sceneRateLimit is the minimum gap between accepted scene changes.
	sceneRateLimit = 30 * time.Second

	// effectRateLimit is the minimum gap between accepted effects.
	effectRateLimit = 5 * time.Second

	// effectCooldown suppresses re-triggering of the same resolved track.
	effectCooldown = 30 * time.Second

	defaultFrequency   = 0.5
	defaultTemperature = 0.4
)

const suggestionPrompt = `You are an audio director for a live tabletop role-playing game session. Based on the recent transcript, decide whether the background scene music should change and whether a one-shot sound effect fits the current moment.

Current scene: %s
Current intensity: %.1f

Respond with ONLY a JSON object in this exact format (no markdown, no prose). Omit "scene" or "effect" when no change is warranted:
{
  "scene": {"name": "<scene label like combat, tavern, dungeon, forest>", "query": "<music search query>", "urgency": <0.0-1.0>, "reason": "<short reason>"},
  "effect": {"query": "<sound effect search query>", "urgency": <0.0-1.0>, "reason": "<short reason>"}
}`

// EventKind distinguishes director output events.
type EventKind string

const (
	KindScene  EventKind = "scene"
	KindEffect EventKind = "effect"
)

// Event is one director decision: a resolved track plus the reason it was
// chosen. Derived, never persisted.
type Event struct {
	Kind  EventKind
	Track catalog.Track
	Scene string

	// Confidence is the model's urgency for scene events, 1 for DM
	// overrides.
	Confidence float64
	Reason     string
}

// suggestion mirrors the slow-path model reply.
type suggestion struct {
	Scene *struct {
		Name    string  `json:"name"`
		Query   string  `json:"query"`
		Urgency float64 `json:"urgency"`
		Reason  string  `json:"reason"`
	} `json:"scene"`
	Effect *struct {
		Query   string  `json:"query"`
		Urgency float64 `json:"urgency"`
		Reason  string  `json:"reason"`
	} `json:"effect"`
}

// Settings are the DM-tunable director knobs, updatable mid-session.
type Settings struct {
	// Enabled switches the whole director on or off.
	Enabled bool

	// EffectFrequency in [0, 1] scales how often detected effects fire.
	EffectFrequency float64

	// SceneMusic enables automatic scene music changes.
	SceneMusic bool
}

// Option is a functional option for [Director].
type Option func(*Director)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(d *Director) {
		d.now = now
	}
}

// WithRandFloat overrides the probability-gate randomness, for tests.
func WithRandFloat(f func() float64) Option {
	return func(d *Director) {
		d.randFloat = f
	}
}

// Director is the per-session auto-audio state machine. All mutable state
// is guarded by one mutex; ProcessSegment is called from the session's
// background pipeline, never from the audio hot path.
type Director struct {
	llm      llm.Provider
	resolver *Resolver
	onEvent  func(Event)

	now       func() time.Time
	randFloat func() float64

	mu           sync.Mutex
	settings     Settings
	window       []string
	segCount     int
	scene        string
	intensity    float64
	lastScene    time.Time
	lastEffect   time.Time
	cooldowns    map[string]time.Time
	currentTrack string
}

// New creates a Director. onEvent receives every resolved play decision;
// it must not block. provider may be nil, which disables the slow path.
func New(provider llm.Provider, resolver *Resolver, settings Settings, onEvent func(Event), opts ...Option) *Director {
	if settings.EffectFrequency == 0 {
		settings.EffectFrequency = defaultFrequency
	}
	d := &Director{
		llm:       provider,
		resolver:  resolver,
		onEvent:   onEvent,
		settings:  settings,
		now:       time.Now,
		randFloat: rand.Float64,
		cooldowns: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// UpdateSettings replaces the DM-tunable knobs.
func (d *Director) UpdateSettings(s Settings) {
	if s.EffectFrequency == 0 {
		s.EffectFrequency = defaultFrequency
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings = s
}

// Scene returns the current scene label, empty before the first change.
func (d *Director) Scene() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scene
}

// ReportPlaybackFailure blacklists a track the client could not play, so a
// different candidate is tried on the next occasion.
func (d *Director) ReportPlaybackFailure(trackID string) {
	d.resolver.Blacklist(trackID)
}

// OverrideScene forces a scene change from a DM action, bypassing the
// scene rate limit but still resolving through the catalogs.
func (d *Director) OverrideScene(ctx context.Context, scene string) {
	d.mu.Lock()
	d.scene = scene
	d.lastScene = d.now()
	d.mu.Unlock()

	d.resolveScene(ctx, scene, scene+" background music ambience", "scene override", 1)
}

// Reset clears all per-session mutable state: scene, rolling window,
// cooldowns, query cache, current track. Called at session start so state
// never leaks across sessions when a director instance is reused.
func (d *Director) Reset() {
	d.mu.Lock()
	d.window = nil
	d.segCount = 0
	d.scene = ""
	d.intensity = 0
	d.lastScene = time.Time{}
	d.lastEffect = time.Time{}
	d.cooldowns = make(map[string]time.Time)
	d.currentTrack = ""
	d.mu.Unlock()

	d.resolver.Reset()
}

// ProcessSegment analyses one finalized segment text. The fast path wins:
// when a pattern rule fires an effect, no slow-path call runs for that
// segment.
func (d *Director) ProcessSegment(ctx context.Context, text string) {
	d.mu.Lock()
	if !d.settings.Enabled {
		d.mu.Unlock()
		return
	}
	d.window = append(d.window, text)
	if len(d.window) > windowSize {
		d.window = d.window[len(d.window)-windowSize:]
	}
	d.segCount++
	count := d.segCount
	d.mu.Unlock()

	if rule := matchEffectRule(text); rule != nil {
		query := rule.Queries[rand.Intn(len(rule.Queries))]
		if d.tryFireEffect(ctx, query, 0.5, "pattern: "+rule.Name) {
			return
		}
	}

	if count%suggestEvery == 0 && d.llm != nil {
		d.suggest(ctx)
	}
}

// tryFireEffect applies the rate limit and the probability gate, then
// resolves and emits the effect. Reports whether an event fired.
func (d *Director) tryFireEffect(ctx context.Context, query string, urgency float64, reason string) bool {
	d.mu.Lock()
	if d.now().Sub(d.lastEffect) < effectRateLimit {
		d.mu.Unlock()
		return false
	}
	probability := d.settings.EffectFrequency * (0.5 + urgency*0.5)
	if d.randFloat() >= probability {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	track, err := d.resolver.ResolveEffect(ctx, query)
	if err != nil {
		return false
	}

	d.mu.Lock()
	if until, ok := d.cooldowns[track.ID]; ok && d.now().Before(until) {
		d.mu.Unlock()
		return false
	}
	d.cooldowns[track.ID] = d.now().Add(effectCooldown)
	d.lastEffect = d.now()
	d.mu.Unlock()

	d.onEvent(Event{Kind: KindEffect, Track: track, Reason: reason})
	return true
}

// suggest runs the slow path: ask the model for a scene and/or effect
// suggestion over the rolling window.
func (d *Director) suggest(ctx context.Context) {
	d.mu.Lock()
	window := strings.Join(d.window, "\n")
	scene := d.scene
	if scene == "" {
		scene = "(none yet)"
	}
	intensity := d.intensity
	d.mu.Unlock()

	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(suggestionPrompt, scene, intensity),
		Temperature:  defaultTemperature,
		Messages: []llm.Message{
			{Role: "user", Content: "Recent transcript:\n" + window},
		},
	}
	resp, err := d.llm.Complete(ctx, req)
	if err != nil {
		// Transient model failure: skip this suggestion entirely.
		return
	}

	var s suggestion
	if err := json.Unmarshal([]byte(stripMarkdown(resp.Content)), &s); err != nil {
		return
	}

	if s.Scene != nil && s.Scene.Name != "" {
		d.trySceneChange(ctx, s.Scene.Name, s.Scene.Query, s.Scene.Urgency, s.Scene.Reason)
	}
	if s.Effect != nil && s.Effect.Query != "" {
		d.tryFireEffect(ctx, s.Effect.Query, s.Effect.Urgency, s.Effect.Reason)
	}
}

// trySceneChange applies the scene rate limit and resolves scene music.
func (d *Director) trySceneChange(ctx context.Context, scene, query string, urgency float64, reason string) {
	d.mu.Lock()
	if !d.settings.SceneMusic {
		d.mu.Unlock()
		return
	}
	if strings.EqualFold(scene, d.scene) {
		d.mu.Unlock()
		return
	}
	if d.now().Sub(d.lastScene) < sceneRateLimit && !d.lastScene.IsZero() {
		d.mu.Unlock()
		return
	}
	d.scene = scene
	d.intensity = urgency
	d.lastScene = d.now()
	d.mu.Unlock()

	if query == "" {
		query = scene + " background music ambience"
	}
	d.resolveScene(ctx, scene, query, reason, urgency)
}

// resolveScene resolves and emits scene music, updating the current track.
func (d *Director) resolveScene(ctx context.Context, scene, query, reason string, confidence float64) {
	track, err := d.resolver.ResolveMusic(ctx, query)
	if err != nil {
		return
	}

	d.mu.Lock()
	d.currentTrack = track.ID
	d.mu.Unlock()
	d.resolver.SetCurrent(track.ID)

	d.onEvent(Event{Kind: KindScene, Track: track, Scene: scene, Confidence: confidence, Reason: reason})
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
