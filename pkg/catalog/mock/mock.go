// Package mock provides a test double for the catalog.Source interface.
package mock

import (
	"context"
	"sync"

	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	Query string
	Opts  catalog.SearchOpts
}

// Source is a mock catalog.Source. ResultsByQuery takes precedence over
// Results when the query has an entry.
type Source struct {
	mu sync.Mutex

	// SourceName is returned by Name. Defaults to "mock".
	SourceName string

	// Results is returned by Search for any query without a
	// ResultsByQuery entry.
	Results []catalog.Track

	// ResultsByQuery maps exact query strings to results.
	ResultsByQuery map[string][]catalog.Track

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// SearchCalls records every invocation of Search in order.
	SearchCalls []SearchCall
}

// Name implements catalog.Source.
func (s *Source) Name() string {
	if s.SourceName == "" {
		return "mock"
	}
	return s.SourceName
}

// Search records the call and returns the configured results.
func (s *Source) Search(_ context.Context, query string, opts catalog.SearchOpts) ([]catalog.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = append(s.SearchCalls, SearchCall{Query: query, Opts: opts})
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if r, ok := s.ResultsByQuery[query]; ok {
		return r, nil
	}
	return s.Results, nil
}

// CallCount returns the number of Search invocations so far. Thread-safe.
func (s *Source) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SearchCalls)
}

var _ catalog.Source = (*Source)(nil)
