// Package tabletopaudio implements a catalog.Source over the Tabletop
// Audio public track feed. The feed is a single JSON document listing
// every published soundscape, so Search fetches it once, caches it, and
// filters locally.
package tabletopaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
)

const (
	sourceName = "tabletopaudio"
	feedURL    = "https://tabletopaudio.com/tta_data"

	// feedTTL bounds how stale the cached feed may get. The feed changes
	// rarely (new tracks land roughly monthly).
	feedTTL = 6 * time.Hour

	defaultLimit = 20
)

// Option is a functional option for Source.
type Option func(*Source)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) {
		s.client = c
	}
}

// WithFeedURL overrides the track feed URL, mainly for tests.
func WithFeedURL(u string) Option {
	return func(s *Source) {
		s.feedURL = u
	}
}

// Source is a catalog.Source backed by the Tabletop Audio feed.
type Source struct {
	client  *http.Client
	feedURL string

	mu        sync.Mutex
	tracks    []feedTrack
	fetchedAt time.Time
}

// feedTrack mirrors one entry of the tta_data feed.
type feedTrack struct {
	Key     int    `json:"key"`
	Name    string `json:"track_title"`
	URL     string `json:"link"`
	Genre   string `json:"track_genre"`
	TagsCSV string `json:"tags"`
}

// New creates a Tabletop Audio source.
func New(opts ...Option) *Source {
	s := &Source{
		client:  &http.Client{Timeout: 15 * time.Second},
		feedURL: feedURL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements catalog.Source.
func (s *Source) Name() string { return sourceName }

// Search implements catalog.Source. Matching is a case-insensitive token
// scan over title, genre, and tags; results are ranked by the number of
// matched query tokens.
func (s *Source) Search(ctx context.Context, query string, opts catalog.SearchOpts) ([]catalog.Track, error) {
	feed, err := s.feed(ctx)
	if err != nil {
		return nil, fmt.Errorf("tabletopaudio: load feed: %w", err)
	}

	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	type scored struct {
		track feedTrack
		score int
	}
	var matches []scored
	for _, ft := range feed {
		haystack := strings.ToLower(ft.Name + " " + ft.Genre + " " + ft.TagsCSV)
		score := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		if !matchesTags(haystack, opts.Tags) {
			continue
		}
		matches = append(matches, scored{track: ft, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]catalog.Track, 0, len(matches))
	for _, m := range matches {
		out = append(out, catalog.Track{
			ID:          fmt.Sprintf("tta-%d", m.track.Key),
			Name:        m.track.Name,
			Src:         m.track.URL,
			Type:        catalog.TypeMusic,
			Source:      sourceName,
			Attribution: "Tabletop Audio (tabletopaudio.com), CC BY-NC-ND 4.0",
			Loop:        true,
		})
	}
	return out, nil
}

func matchesTags(haystack string, tags []string) bool {
	for _, tag := range tags {
		if !strings.Contains(haystack, strings.ToLower(tag)) {
			return false
		}
	}
	return true
}

// feed returns the cached track list, refetching when expired.
func (s *Source) feed(ctx context.Context) ([]feedTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracks != nil && time.Since(s.fetchedAt) < feedTTL {
		return s.tracks, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		// Serve the stale cache rather than failing hard.
		if s.tracks != nil {
			return s.tracks, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if s.tracks != nil {
			return s.tracks, nil
		}
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var feed struct {
		Tracks []feedTrack `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	s.tracks = feed.Tracks
	s.fetchedAt = time.Now()
	return s.tracks, nil
}

var _ catalog.Source = (*Source)(nil)
