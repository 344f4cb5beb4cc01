// Package jamendo implements a catalog.Source over the Jamendo API v3.0,
// a royalty-free music catalog. Requires a Jamendo client ID.
package jamendo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
)

const (
	sourceName   = "jamendo"
	apiBase      = "https://api.jamendo.com/v3.0"
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

// WithBaseURL overrides the API base URL, mainly for tests.
func WithBaseURL(u string) Option {
	return func(s *Source) {
		s.baseURL = u
	}
}

// Source is a catalog.Source backed by Jamendo.
type Source struct {
	clientID string
	client   *http.Client
	baseURL  string
}

// New creates a Jamendo source. clientID must be non-empty.
func New(clientID string, opts ...Option) (*Source, error) {
	if clientID == "" {
		return nil, fmt.Errorf("jamendo: clientID must not be empty")
	}
	s := &Source{
		clientID: clientID,
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  apiBase,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name implements catalog.Source.
func (s *Source) Name() string { return sourceName }

// trackResult mirrors one entry of the Jamendo /tracks response.
type trackResult struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	ArtistName string  `json:"artist_name"`
	Audio      string  `json:"audio"`
	Duration   float64 `json:"duration"`
	License    string  `json:"license_ccurl"`
}

// Search implements catalog.Source using Jamendo's fuzzy track search.
func (s *Source) Search(ctx context.Context, query string, opts catalog.SearchOpts) ([]catalog.Track, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("search", query)
	q.Set("audioformat", "mp32")
	q.Set("include", "licenses")
	if len(opts.Tags) > 0 {
		q.Set("tags", strings.Join(opts.Tags, "+"))
	}
	if opts.MaxDuration > 0 {
		q.Set("durationbetween", fmt.Sprintf("0_%d", int(opts.MaxDuration)))
	}

	reqURL := s.baseURL + "/tracks/?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("jamendo: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jamendo: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jamendo: search returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []trackResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("jamendo: decode response: %w", err)
	}

	out := make([]catalog.Track, 0, len(body.Results))
	for _, r := range body.Results {
		if r.Audio == "" {
			continue
		}
		out = append(out, catalog.Track{
			ID:          "jam-" + r.ID,
			Name:        r.Name,
			Src:         r.Audio,
			Type:        catalog.TypeMusic,
			Source:      sourceName,
			Duration:    r.Duration,
			Attribution: fmt.Sprintf("%s by %s (Jamendo)", r.Name, r.ArtistName),
			Loop:        true,
		})
	}
	return out, nil
}

var _ catalog.Source = (*Source)(nil)
