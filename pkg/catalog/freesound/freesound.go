// Package freesound implements a catalog.Source over the Freesound text
// search API, used primarily for short sound effects and ambience loops.
// Requires a Freesound API token.
package freesound

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
	sourceName   = "freesound"
	apiBase      = "https://freesound.org/apiv2"
	defaultLimit = 15
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

// Source is a catalog.Source backed by Freesound.
type Source struct {
	token   string
	client  *http.Client
	baseURL string
}

// New creates a Freesound source. token must be non-empty.
func New(token string, opts ...Option) (*Source, error) {
	if token == "" {
		return nil, fmt.Errorf("freesound: token must not be empty")
	}
	s := &Source{
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: apiBase,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name implements catalog.Source.
func (s *Source) Name() string { return sourceName }

// soundResult mirrors one entry of the Freesound text search response.
type soundResult struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Duration float64  `json:"duration"`
	Username string   `json:"username"`
	License  string   `json:"license"`
	Previews struct {
		HQMP3 string `json:"preview-hq-mp3"`
		LQMP3 string `json:"preview-lq-mp3"`
	} `json:"previews"`
}

// Search implements catalog.Source. Duration filters are pushed into the
// Freesound query filter syntax so the API does the narrowing.
func (s *Source) Search(ctx context.Context, query string, opts catalog.SearchOpts) ([]catalog.Track, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("page_size", strconv.Itoa(limit))
	q.Set("fields", "id,name,duration,username,license,previews")
	q.Set("sort", "score")

	var filters []string
	if opts.MaxDuration > 0 {
		filters = append(filters, fmt.Sprintf("duration:[0 TO %g]", opts.MaxDuration))
	}
	for _, tag := range opts.Tags {
		filters = append(filters, "tag:"+tag)
	}
	if len(filters) > 0 {
		q.Set("filter", strings.Join(filters, " "))
	}

	reqURL := s.baseURL + "/search/text/?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("freesound: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("freesound: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("freesound: search returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []soundResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("freesound: decode response: %w", err)
	}

	out := make([]catalog.Track, 0, len(body.Results))
	for _, r := range body.Results {
		src := r.Previews.HQMP3
		if src == "" {
			src = r.Previews.LQMP3
		}
		if src == "" {
			continue
		}
		out = append(out, catalog.Track{
			ID:          "fs-" + strconv.Itoa(r.ID),
			Name:        r.Name,
			Src:         src,
			Type:        catalog.TypeEffect,
			Source:      sourceName,
			Duration:    r.Duration,
			Attribution: fmt.Sprintf("%s by %s (Freesound, %s)", r.Name, r.Username, r.License),
		})
	}
	return out, nil
}

var _ catalog.Source = (*Source)(nil)
