package autoaudio_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Jaaaxx/DnD-Companion/internal/autoaudio"
	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
	catmock "github.com/Jaaaxx/DnD-Companion/pkg/catalog/mock"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
	llmmock "github.com/Jaaaxx/DnD-Companion/pkg/provider/llm/mock"
)

func alwaysReachable(context.Context, string) bool { return true }

func noShuffle(int, func(i, j int)) {}

func effectTracks(ids ...string) []catalog.Track {
	out := make([]catalog.Track, len(ids))
	for i, id := range ids {
		out[i] = catalog.Track{ID: id, Name: id, Src: "https://cdn.test/" + id, Type: catalog.TypeEffect}
	}
	return out
}

func newResolver(music, effects []catalog.Source) *autoaudio.Resolver {
	return autoaudio.NewResolver(music, effects,
		autoaudio.WithReachabilityCheck(alwaysReachable),
		autoaudio.WithShuffle(noShuffle),
	)
}

// collector gathers director events thread-safely.
type collector struct {
	mu     sync.Mutex
	events []autoaudio.Event
}

func (c *collector) add(ev autoaudio.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) all() []autoaudio.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]autoaudio.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestResolverEffectDurationFallback(t *testing.T) {
	t.Parallel()

	src := &catmock.Source{Results: effectTracks("fx1")}
	r := newResolver(nil, []catalog.Source{src})

	track, err := r.ResolveEffect(context.Background(), "thunder")
	if err != nil {
		t.Fatalf("ResolveEffect: %v", err)
	}
	if track.ID != "fx1" {
		t.Errorf("track = %+v", track)
	}
	// First call already satisfied by the duration-filtered pass.
	if src.CallCount() != 1 {
		t.Errorf("search calls = %d, want 1", src.CallCount())
	}
	if src.SearchCalls[0].Opts.MaxDuration == 0 {
		t.Error("first pass missing duration filter")
	}
}

func TestResolverEffectUnconstrainedFallback(t *testing.T) {
	t.Parallel()

	filtered := &catmock.Source{Results: nil}
	r := newResolver(nil, []catalog.Source{filtered})
	if _, err := r.ResolveEffect(context.Background(), "thunder"); err == nil {
		t.Fatal("expected error when every pass is empty")
	}
	// Both passes ran against the source.
	if filtered.CallCount() != 2 {
		t.Errorf("search calls = %d, want 2 (filtered then unconstrained)", filtered.CallCount())
	}
}

func TestResolverMusicChainPriority(t *testing.T) {
	t.Parallel()

	curated := &catmock.Source{SourceName: "curated"} // empty results
	music := &catmock.Source{SourceName: "music", Results: []catalog.Track{
		{ID: "song1", Src: "https://cdn.test/song1", Type: catalog.TypeMusic},
	}}
	ambience := &catmock.Source{SourceName: "ambience", Results: []catalog.Track{
		{ID: "amb1", Src: "https://cdn.test/amb1", Type: catalog.TypeMusic},
	}}

	r := newResolver([]catalog.Source{curated, music, ambience}, nil)
	track, err := r.ResolveMusic(context.Background(), "combat")
	if err != nil {
		t.Fatalf("ResolveMusic: %v", err)
	}
	if track.ID != "song1" {
		t.Errorf("track = %s, want song1 (second source in priority order)", track.ID)
	}
	if ambience.CallCount() != 0 {
		t.Error("chain did not stop at the first source with candidates")
	}
}

func TestResolverEmptyResultsDoNotOpenBreaker(t *testing.T) {
	t.Parallel()

	curated := &catmock.Source{
		SourceName: "curated",
		ResultsByQuery: map[string][]catalog.Track{
			"tavern": {{ID: "tta1", Src: "https://cdn.test/tta1", Type: catalog.TypeMusic}},
		},
	}
	fallback := &catmock.Source{SourceName: "fallback", Results: []catalog.Track{
		{ID: "song1", Src: "https://cdn.test/song1", Type: catalog.TypeMusic},
	}}
	r := newResolver([]catalog.Source{curated, fallback}, nil)

	// Four distinct queries the curated source has no match for. Each must
	// fall through to the lower-priority source without charging the
	// curated breaker a failure.
	for _, query := range []string{"combat", "forest", "storm", "dungeon"} {
		track, err := r.ResolveMusic(context.Background(), query)
		if err != nil {
			t.Fatalf("ResolveMusic(%q): %v", query, err)
		}
		if track.ID != "song1" {
			t.Errorf("ResolveMusic(%q) = %s, want fallback song1", query, track.ID)
		}
	}
	if curated.CallCount() != 4 {
		t.Fatalf("curated searches = %d, want 4", curated.CallCount())
	}

	// A query the curated source can serve still reaches it first.
	track, err := r.ResolveMusic(context.Background(), "tavern")
	if err != nil {
		t.Fatalf("ResolveMusic(tavern): %v", err)
	}
	if track.ID != "tta1" {
		t.Errorf("track = %s, want tta1 from the curated source", track.ID)
	}
	if curated.CallCount() != 5 {
		t.Errorf("curated searches = %d, want 5 (source must not be skipped)", curated.CallCount())
	}
}

func TestResolverCachesQueries(t *testing.T) {
	t.Parallel()

	src := &catmock.Source{Results: effectTracks("fx1", "fx2")}
	r := newResolver(nil, []catalog.Source{src})

	if _, err := r.ResolveEffect(context.Background(), "roar"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := r.ResolveEffect(context.Background(), "roar"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if src.CallCount() != 1 {
		t.Errorf("search calls = %d, want 1 (second resolve served from cache)", src.CallCount())
	}
}

func TestResolverSkipsBlacklistedAndCurrent(t *testing.T) {
	t.Parallel()

	src := &catmock.Source{Results: effectTracks("fx1", "fx2", "fx3")}
	r := newResolver(nil, []catalog.Source{src})
	r.Blacklist("fx1")
	r.SetCurrent("fx2")

	track, err := r.ResolveEffect(context.Background(), "roar")
	if err != nil {
		t.Fatalf("ResolveEffect: %v", err)
	}
	if track.ID != "fx3" {
		t.Errorf("track = %s, want fx3", track.ID)
	}
}

func TestResolverBlacklistsUnreachable(t *testing.T) {
	t.Parallel()

	src := &catmock.Source{Results: effectTracks("dead", "alive")}
	r := autoaudio.NewResolver(nil, []catalog.Source{src},
		autoaudio.WithShuffle(noShuffle),
		autoaudio.WithReachabilityCheck(func(_ context.Context, url string) bool {
			return !strings.Contains(url, "dead")
		}),
	)

	track, err := r.ResolveEffect(context.Background(), "roar")
	if err != nil {
		t.Fatalf("ResolveEffect: %v", err)
	}
	if track.ID != "alive" {
		t.Errorf("track = %s, want alive", track.ID)
	}
}

func newDirector(t *testing.T, c *collector, src catalog.Source, clock *time.Time) *autoaudio.Director {
	t.Helper()
	r := newResolver(nil, []catalog.Source{src})
	return autoaudio.New(nil, r,
		autoaudio.Settings{Enabled: true, EffectFrequency: 1, SceneMusic: true},
		c.add,
		autoaudio.WithRandFloat(func() float64 { return 0 }),
		autoaudio.WithNow(func() time.Time { return *clock }),
	)
}

func TestDirectorFastPathFireball(t *testing.T) {
	t.Parallel()

	c := &collector{}
	src := &catmock.Source{Results: effectTracks("boom")}
	clock := time.Now()
	d := newDirector(t, c, src, &clock)

	d.ProcessSegment(context.Background(), "I cast fireball at the goblins")

	events := c.all()
	if len(events) != 1 {
		t.Fatalf("events = %+v, want one effect", events)
	}
	if events[0].Kind != autoaudio.KindEffect || events[0].Track.ID != "boom" {
		t.Errorf("event = %+v", events[0])
	}
	if !strings.Contains(events[0].Reason, "fireball") {
		t.Errorf("reason = %q, want pattern name", events[0].Reason)
	}
	if src.CallCount() == 0 {
		t.Fatal("no catalog search ran")
	}
	query := src.SearchCalls[0].Query
	if !strings.Contains(query, "fire") && !strings.Contains(query, "flame") {
		t.Errorf("query = %q, want a fireball variant", query)
	}
}

func TestDirectorEffectRateLimitAndCooldown(t *testing.T) {
	t.Parallel()

	c := &collector{}
	src := &catmock.Source{Results: effectTracks("boom")}
	clock := time.Now()
	d := newDirector(t, c, src, &clock)

	d.ProcessSegment(context.Background(), "thunder rolls")
	if len(c.all()) != 1 {
		t.Fatalf("first effect did not fire: %+v", c.all())
	}

	// Within the 5 s effect rate limit: suppressed.
	clock = clock.Add(2 * time.Second)
	d.ProcessSegment(context.Background(), "more thunder")
	if len(c.all()) != 1 {
		t.Fatalf("effect fired inside rate limit: %+v", c.all())
	}

	// Past the rate limit but inside the 30 s per-track cooldown: the same
	// resolved track stays suppressed.
	clock = clock.Add(10 * time.Second)
	d.ProcessSegment(context.Background(), "thunder again")
	if len(c.all()) != 1 {
		t.Fatalf("same track re-fired inside cooldown: %+v", c.all())
	}

	// Past the cooldown it may fire again.
	clock = clock.Add(30 * time.Second)
	d.ProcessSegment(context.Background(), "thunder once more")
	if len(c.all()) != 2 {
		t.Fatalf("effect did not fire after cooldown: %+v", c.all())
	}
}

func TestDirectorDisabled(t *testing.T) {
	t.Parallel()

	c := &collector{}
	src := &catmock.Source{Results: effectTracks("boom")}
	clock := time.Now()
	d := newDirector(t, c, src, &clock)
	d.UpdateSettings(autoaudio.Settings{Enabled: false})

	d.ProcessSegment(context.Background(), "I cast fireball")
	if len(c.all()) != 0 {
		t.Fatalf("disabled director fired: %+v", c.all())
	}
}

func TestDirectorResetClearsState(t *testing.T) {
	t.Parallel()

	c := &collector{}
	src := &catmock.Source{Results: effectTracks("boom")}
	clock := time.Now()
	d := newDirector(t, c, src, &clock)

	d.ProcessSegment(context.Background(), "thunder rolls")
	if len(c.all()) != 1 {
		t.Fatal("setup effect did not fire")
	}

	d.Reset()

	// After reset the cooldown and rate-limit state are gone, so the same
	// track fires immediately.
	d.ProcessSegment(context.Background(), "thunder rolls")
	if len(c.all()) != 2 {
		t.Fatalf("effect did not fire after Reset: %+v", c.all())
	}
	if d.Scene() != "" {
		t.Errorf("Scene() after Reset = %q, want empty", d.Scene())
	}
}

func TestDirectorSlowPathSceneSuggestion(t *testing.T) {
	t.Parallel()

	c := &collector{}
	music := &catmock.Source{SourceName: "music", Results: []catalog.Track{
		{ID: "combat1", Src: "https://cdn.test/combat1", Type: catalog.TypeMusic},
	}}
	r := newResolver([]catalog.Source{music}, nil)

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"scene": {"name": "combat", "query": "epic battle music", "urgency": 0.9, "reason": "initiative was called"}}`,
		},
	}
	clock := time.Now()
	d := autoaudio.New(p, r,
		autoaudio.Settings{Enabled: true, EffectFrequency: 1, SceneMusic: true},
		c.add,
		autoaudio.WithRandFloat(func() float64 { return 0 }),
		autoaudio.WithNow(func() time.Time { return clock }),
	)

	// Plain segments; the third triggers the suggestion model.
	d.ProcessSegment(context.Background(), "the party walks on")
	d.ProcessSegment(context.Background(), "they discuss the map")
	d.ProcessSegment(context.Background(), "suddenly goblins appear")

	if p.CallCount() != 1 {
		t.Fatalf("model calls = %d, want 1 (every third segment)", p.CallCount())
	}
	events := c.all()
	if len(events) != 1 || events[0].Kind != autoaudio.KindScene {
		t.Fatalf("events = %+v, want one scene event", events)
	}
	if events[0].Scene != "combat" || events[0].Track.ID != "combat1" {
		t.Errorf("event = %+v", events[0])
	}
	if d.Scene() != "combat" {
		t.Errorf("Scene() = %q, want combat", d.Scene())
	}
}
