// Package postgres provides the PostgreSQL-backed implementation of
// store.Store using pgx connection pooling. The schema is bootstrapped on
// startup with idempotent DDL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jaaaxx/DnD-Companion/internal/campaign"
	"github.com/Jaaaxx/DnD-Companion/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'idle',
	world_context TEXT NOT NULL DEFAULT '',
	recap        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS players (
	id             TEXT PRIMARY KEY,
	campaign_id    TEXT NOT NULL,
	character_name TEXT NOT NULL,
	player_name    TEXT NOT NULL DEFAULT '',
	hp             INTEGER NOT NULL DEFAULT 0,
	max_hp         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS npcs (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sound_mappings (
	id            TEXT PRIMARY KEY,
	campaign_id   TEXT NOT NULL,
	trigger_type  TEXT NOT NULL,
	trigger_value TEXT NOT NULL,
	audio_url     TEXT NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	volume        DOUBLE PRECISION NOT NULL DEFAULT 0,
	loop          BOOLEAN NOT NULL DEFAULT false,
	crossfade_ms  INTEGER NOT NULL DEFAULT 0,
	position      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	idx           INTEGER NOT NULL,
	segment_id    TEXT NOT NULL,
	speaker_label TEXT NOT NULL,
	speaker_name  TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL,
	spoken_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, idx)
);

CREATE TABLE IF NOT EXISTS health_events (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	player_id      TEXT NOT NULL,
	character_name TEXT NOT NULL,
	delta          INTEGER NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	resolved       BOOLEAN NOT NULL DEFAULT false,
	confirmed      BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, verifies the connection, and bootstraps the
// schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: bootstrap schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadSessionContext implements store.Store.
func (s *Store) LoadSessionContext(ctx context.Context, sessionID string) (*campaign.Context, error) {
	var campaignID, worldContext string
	err := s.pool.QueryRow(ctx,
		`SELECT campaign_id, world_context FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&campaignID, &worldContext)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load session %s: %w", sessionID, err)
	}

	cc := &campaign.Context{
		SessionID:    sessionID,
		WorldContext: worldContext,
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, character_name, player_name, hp, max_hp
		 FROM players WHERE campaign_id = $1 ORDER BY character_name`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load players: %w", err)
	}
	cc.Players, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.Player, error) {
		var p campaign.Player
		err := row.Scan(&p.ID, &p.CharacterName, &p.PlayerName, &p.Hp, &p.MaxHp)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: collect players: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, name, description FROM npcs WHERE campaign_id = $1 ORDER BY name`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load npcs: %w", err)
	}
	cc.NPCs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.NPC, error) {
		var n campaign.NPC
		err := row.Scan(&n.ID, &n.Name, &n.Description)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: collect npcs: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, trigger_type, trigger_value, audio_url, label, volume, loop, crossfade_ms
		 FROM sound_mappings WHERE campaign_id = $1 ORDER BY position, id`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load sound mappings: %w", err)
	}
	cc.SoundMappings, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.SoundMapping, error) {
		var m campaign.SoundMapping
		err := row.Scan(&m.ID, &m.TriggerType, &m.TriggerValue, &m.AudioURL, &m.Label,
			&m.Volume, &m.Loop, &m.CrossfadeMs)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: collect sound mappings: %w", err)
	}

	return cc, nil
}

// SaveTranscript implements store.Store. The whole transcript is replaced
// in one transaction, so a retried save after a partial failure converges
// to the same rows.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, segs []store.TranscriptRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transcript save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM transcript_segments WHERE session_id = $1`, sessionID,
	); err != nil {
		return fmt.Errorf("postgres: clear transcript: %w", err)
	}

	for _, seg := range segs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transcript_segments
			 (session_id, idx, segment_id, speaker_label, speaker_name, content, spoken_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sessionID, seg.Index, seg.ID, seg.SpeakerLabel, seg.SpeakerName, seg.Text, seg.Timestamp,
		); err != nil {
			return fmt.Errorf("postgres: insert segment %d: %w", seg.Index, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID,
	); err != nil {
		return fmt.Errorf("postgres: touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transcript save: %w", err)
	}
	return nil
}

// UpdatePlayerHP implements store.Store.
func (s *Store) UpdatePlayerHP(ctx context.Context, playerID string, hp int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET hp = $2 WHERE id = $1`, playerID, hp,
	)
	if err != nil {
		return fmt.Errorf("postgres: update player hp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateHealthEvent implements store.Store. Fills in ID and CreatedAt when
// unset.
func (s *Store) CreateHealthEvent(ctx context.Context, ev *store.HealthEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO health_events
		 (id, session_id, player_id, character_name, delta, description, resolved, confirmed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, false, $7)`,
		ev.ID, ev.SessionID, ev.PlayerID, ev.CharacterName, ev.Delta, ev.Description, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create health event: %w", err)
	}
	return nil
}

// ResolveHealthEvent implements store.Store.
func (s *Store) ResolveHealthEvent(ctx context.Context, eventID string, confirmed bool) (*store.HealthEvent, error) {
	ev := &store.HealthEvent{ID: eventID, Resolved: true, Confirmed: confirmed}
	err := s.pool.QueryRow(ctx,
		`UPDATE health_events SET resolved = true, confirmed = $2
		 WHERE id = $1 AND resolved = false
		 RETURNING session_id, player_id, character_name, delta, description, created_at`,
		eventID, confirmed,
	).Scan(&ev.SessionID, &ev.PlayerID, &ev.CharacterName, &ev.Delta, &ev.Description, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: resolve health event: %w", err)
	}
	return ev, nil
}

// MarkSessionStatus implements store.Store.
func (s *Store) MarkSessionStatus(ctx context.Context, sessionID string, status store.SessionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1`,
		sessionID, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveRecap implements store.Store.
func (s *Store) SaveRecap(ctx context.Context, sessionID string, recap string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET recap = $2, updated_at = now() WHERE id = $1`,
		sessionID, recap,
	)
	if err != nil {
		return fmt.Errorf("postgres: save recap: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

var _ store.Store = (*Store)(nil)
