// Package store defines the persistence interface for game sessions:
// campaign context loading, transcript snapshots, player HP, health
// events, session status, and recaps.
//
// Writes are at-least-once. The session orchestrator retries failed
// transcript saves on its next persistence tick, so implementations must
// make SaveTranscript an idempotent replace-all for the session.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
)

// ErrNotFound is returned when a requested session, player, or event does
// not exist or is not visible to the caller.
var ErrNotFound = errors.New("store: not found")

// SessionStatus is the lifecycle state persisted for a session.
type SessionStatus string

const (
	StatusIdle   SessionStatus = "idle"
	StatusActive SessionStatus = "active"
	StatusPaused SessionStatus = "paused"
	StatusEnded  SessionStatus = "ended"
)

// TranscriptRow is one persisted transcript segment.
type TranscriptRow struct {
	ID           string
	Index        int
	SpeakerLabel string
	SpeakerName  string
	Text         string
	Timestamp    time.Time
}

// HealthEvent is a detected HP change awaiting DM confirmation.
type HealthEvent struct {
	ID            string
	SessionID     string
	PlayerID      string
	CharacterName string

	// Delta is the HP change: negative for damage, positive for healing.
	Delta int

	// Description is the model's short account of what happened.
	Description string

	// Resolved is true once the DM confirmed or rejected the event.
	Resolved bool

	// Confirmed is meaningful only when Resolved is true.
	Confirmed bool

	CreatedAt time.Time
}

// Store is the persistence boundary for the session orchestrator and the
// gateway.
type Store interface {
	// LoadSessionContext loads the campaign roster, sound mappings, and
	// world context for the given session. Returns ErrNotFound when the
	// session does not exist.
	LoadSessionContext(ctx context.Context, sessionID string) (*campaign.Context, error)

	// SaveTranscript replaces the persisted transcript for the session
	// with the given rows. Idempotent.
	SaveTranscript(ctx context.Context, sessionID string, rows []TranscriptRow) error

	// UpdatePlayerHP sets the player's current HP.
	UpdatePlayerHP(ctx context.Context, playerID string, hp int) error

	// CreateHealthEvent persists an unresolved health event.
	CreateHealthEvent(ctx context.Context, ev *HealthEvent) error

	// ResolveHealthEvent marks the event confirmed or rejected and
	// returns it. Returns ErrNotFound for unknown or already resolved
	// events.
	ResolveHealthEvent(ctx context.Context, eventID string, confirmed bool) (*HealthEvent, error)

	// MarkSessionStatus updates the session lifecycle status.
	MarkSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error

	// SaveRecap stores the end-of-session recap text.
	SaveRecap(ctx context.Context, sessionID string, recap string) error

	// Close releases the underlying connections.
	Close()
}
