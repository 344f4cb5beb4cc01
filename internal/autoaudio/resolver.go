package autoaudio

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Jaaaxx/DnD-Companion/internal/resilience"
	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
)

const (
	// cacheTTL bounds how long a catalog query result is reused.
	cacheTTL = 60 * time.Second

	// maxCandidates is how many shuffled candidates one resolution tries.
	maxCandidates = 5

	// effectMaxDuration filters the first effect search pass to short
	// sounds; the unconstrained fallback runs when it yields nothing.
	effectMaxDuration = 15.0
)

// ErrNoTrack is returned when no playable candidate could be resolved.
var ErrNoTrack = errors.New("autoaudio: no playable track found")

// errEmptyResult advances the source chain when a search succeeds but
// returns nothing useful. It wraps resilience.ErrSkipEntry so a healthy
// source with no match is not charged a circuit-breaker failure.
var errEmptyResult = fmt.Errorf("autoaudio: %w: source returned no tracks", resilience.ErrSkipEntry)

// ResolverOption is a functional option for [Resolver].
type ResolverOption func(*Resolver)

// WithReachabilityCheck overrides how candidate URLs are probed. The
// default issues an HTTP HEAD request.
func WithReachabilityCheck(check func(ctx context.Context, url string) bool) ResolverOption {
	return func(r *Resolver) {
		r.reachable = check
	}
}

// WithShuffle overrides the candidate shuffle, mainly for deterministic
// tests.
func WithShuffle(shuffle func(n int, swap func(i, j int))) ResolverOption {
	return func(r *Resolver) {
		r.shuffle = shuffle
	}
}

type cacheEntry struct {
	tracks  []catalog.Track
	expires time.Time
}

// Resolver turns a search intent into an actual playable track. Music
// queries walk a priority chain of catalog sources (curated TTRPG
// soundscapes first, then generic music, then ambience) stopping at the
// first source with candidates. Effects query the effect sources with a
// short-duration filter, falling back to an unconstrained query.
//
// Per-session state: a 60-second query cache, a blacklist of tracks
// reported unplayable, and the currently playing track id (skipped when
// picking candidates). Safe for concurrent use.
type Resolver struct {
	music   *resilience.Chain[catalog.Source]
	effects []catalog.Source

	sf        singleflight.Group
	reachable func(ctx context.Context, url string) bool
	shuffle   func(n int, swap func(i, j int))

	mu        sync.Mutex
	cache     map[string]cacheEntry
	blacklist map[string]struct{}
	current   string
}

// NewResolver builds a Resolver. musicSources are tried in the given
// priority order for scene music; effectSources for one-shot effects.
func NewResolver(musicSources, effectSources []catalog.Source, opts ...ResolverOption) *Resolver {
	chain := resilience.NewChain[catalog.Source](resilience.ChainConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  4,
			ResetTimeout: 2 * time.Minute,
		},
	})
	for _, src := range musicSources {
		chain.Add(src.Name(), src)
	}

	r := &Resolver{
		music:     chain,
		effects:   effectSources,
		cache:     make(map[string]cacheEntry),
		blacklist: make(map[string]struct{}),
		shuffle:   rand.Shuffle,
		reachable: headReachable,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveMusic returns a playable music track for the query.
func (r *Resolver) ResolveMusic(ctx context.Context, query string) (catalog.Track, error) {
	tracks, err := r.searchCached("music:"+query, func() ([]catalog.Track, error) {
		return resilience.TryWithResult(r.music, func(_ string, src catalog.Source) ([]catalog.Track, error) {
			found, err := src.Search(ctx, query, catalog.SearchOpts{Limit: 20})
			if err != nil {
				return nil, err
			}
			if len(found) == 0 {
				return nil, errEmptyResult
			}
			return found, nil
		})
	})
	if err != nil {
		return catalog.Track{}, fmt.Errorf("autoaudio: music search %q: %w", query, err)
	}
	return r.pick(ctx, tracks)
}

// ResolveEffect returns a playable effect track for the query. The first
// pass filters to short sounds; when it yields nothing usable, an
// unconstrained pass runs.
func (r *Resolver) ResolveEffect(ctx context.Context, query string) (catalog.Track, error) {
	if len(r.effects) == 0 {
		return catalog.Track{}, ErrNoTrack
	}

	for _, opts := range []catalog.SearchOpts{
		{MaxDuration: effectMaxDuration, Limit: 15},
		{Limit: 15},
	} {
		key := fmt.Sprintf("effect:%s:%g", query, opts.MaxDuration)
		tracks, err := r.searchCached(key, func() ([]catalog.Track, error) {
			var lastErr error
			for _, src := range r.effects {
				found, err := src.Search(ctx, query, opts)
				if err != nil {
					lastErr = err
					continue
				}
				if len(found) > 0 {
					return found, nil
				}
			}
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, errEmptyResult
		})
		if err != nil {
			continue
		}
		if track, err := r.pick(ctx, tracks); err == nil {
			return track, nil
		}
	}
	return catalog.Track{}, ErrNoTrack
}

// Blacklist marks a track as permanently unplayable for this session.
// Called on client playback-failure reports.
func (r *Resolver) Blacklist(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist[trackID] = struct{}{}
}

// SetCurrent records the currently playing track id so it is skipped when
// picking the next candidate.
func (r *Resolver) SetCurrent(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = trackID
}

// Reset clears the query cache, blacklist, and current track.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
	r.blacklist = make(map[string]struct{})
	r.current = ""
}

// searchCached serves the query from the short-lived cache, deduplicating
// concurrent identical searches through singleflight.
func (r *Resolver) searchCached(key string, search func() ([]catalog.Track, error)) ([]catalog.Track, error) {
	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.tracks, nil
	}
	r.mu.Unlock()

	v, err, _ := r.sf.Do(key, func() (any, error) {
		tracks, err := search()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = cacheEntry{tracks: tracks, expires: time.Now().Add(cacheTTL)}
		r.mu.Unlock()
		return tracks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]catalog.Track), nil
}

// pick chooses a playable candidate: up to maxCandidates shuffled tracks,
// skipping the currently playing id and blacklisted tracks, validated for
// reachability. An unreachable candidate is blacklisted for the session.
func (r *Resolver) pick(ctx context.Context, tracks []catalog.Track) (catalog.Track, error) {
	candidates := make([]catalog.Track, len(tracks))
	copy(candidates, tracks)
	r.shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	tried := 0
	for _, t := range candidates {
		if tried >= maxCandidates {
			break
		}
		r.mu.Lock()
		_, banned := r.blacklist[t.ID]
		isCurrent := t.ID == r.current
		r.mu.Unlock()
		if banned || isCurrent {
			continue
		}

		tried++
		if !r.reachable(ctx, t.Src) {
			r.Blacklist(t.ID)
			continue
		}
		return t, nil
	}
	return catalog.Track{}, ErrNoTrack
}

// headReachable probes a URL with an HTTP HEAD request.
func headReachable(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
