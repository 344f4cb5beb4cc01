package session

import (
	"fmt"
	"sync"
)

// Table is the explicit registry of live sessions, keyed by session token.
// Entries are inserted on start and removed on end or disconnect; nothing
// else holds session references, so removal is the lifetime boundary for
// late background writes.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Insert registers a session under token. Fails when the token is already
// live, so two connections cannot drive the same session.
func (t *Table) Insert(token string, s *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[token]; ok {
		return fmt.Errorf("session: token %s already active", token)
	}
	t.sessions[token] = s
	return nil
}

// Lookup returns the live session for token, if any.
func (t *Table) Lookup(token string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[token]
	return s, ok
}

// Remove drops the session for token and returns it, if it was live.
func (t *Table) Remove(token string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[token]
	if ok {
		delete(t.sessions, token)
	}
	return s, ok
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
