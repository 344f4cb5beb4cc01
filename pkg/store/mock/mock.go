// Package mock provides an in-memory test double for the store.Store
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
	"github.com/Jaaaxx/DnD-Companion/pkg/store"
)

// Store is a mock store.Store. Contexts maps session IDs to the campaign
// context returned by LoadSessionContext; unknown IDs yield ErrNotFound.
type Store struct {
	mu sync.Mutex

	// Contexts maps session ID to campaign context.
	Contexts map[string]*campaign.Context

	// Errors injected per operation. Nil means success.
	LoadErr    error
	SaveErr    error
	HPErr      error
	EventErr   error
	ResolveErr error
	StatusErr  error
	RecapErr   error

	// Recorded state.
	Transcripts   map[string][]store.TranscriptRow
	PlayerHP      map[string]int
	HealthEvents  []*store.HealthEvent
	Statuses      map[string]store.SessionStatus
	Recaps        map[string]string
	SaveCalls     int
	ResolvedCalls []string
}

// New returns an empty mock store.
func New() *Store {
	return &Store{
		Contexts:    map[string]*campaign.Context{},
		Transcripts: map[string][]store.TranscriptRow{},
		PlayerHP:    map[string]int{},
		Statuses:    map[string]store.SessionStatus{},
		Recaps:      map[string]string{},
	}
}

func (s *Store) LoadSessionContext(_ context.Context, sessionID string) (*campaign.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	cc, ok := s.Contexts[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cc, nil
}

func (s *Store) SaveTranscript(_ context.Context, sessionID string, rows []store.TranscriptRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	cp := make([]store.TranscriptRow, len(rows))
	copy(cp, rows)
	s.Transcripts[sessionID] = cp
	return nil
}

func (s *Store) UpdatePlayerHP(_ context.Context, playerID string, hp int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HPErr != nil {
		return s.HPErr
	}
	s.PlayerHP[playerID] = hp
	return nil
}

func (s *Store) CreateHealthEvent(_ context.Context, ev *store.HealthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EventErr != nil {
		return s.EventErr
	}
	if ev.ID == "" {
		ev.ID = "ev-" + string(rune('a'+len(s.HealthEvents)))
	}
	s.HealthEvents = append(s.HealthEvents, ev)
	return nil
}

func (s *Store) ResolveHealthEvent(_ context.Context, eventID string, confirmed bool) (*store.HealthEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResolvedCalls = append(s.ResolvedCalls, eventID)
	if s.ResolveErr != nil {
		return nil, s.ResolveErr
	}
	for _, ev := range s.HealthEvents {
		if ev.ID == eventID && !ev.Resolved {
			ev.Resolved = true
			ev.Confirmed = confirmed
			return ev, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MarkSessionStatus(_ context.Context, sessionID string, status store.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatusErr != nil {
		return s.StatusErr
	}
	s.Statuses[sessionID] = status
	return nil
}

func (s *Store) SaveRecap(_ context.Context, sessionID string, recap string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecapErr != nil {
		return s.RecapErr
	}
	s.Recaps[sessionID] = recap
	return nil
}

func (s *Store) Close() {}

// TranscriptFor returns a copy of the last saved transcript for a session.
func (s *Store) TranscriptFor(sessionID string) []store.TranscriptRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.Transcripts[sessionID]
	cp := make([]store.TranscriptRow, len(rows))
	copy(cp, rows)
	return cp
}

var _ store.Store = (*Store)(nil)
