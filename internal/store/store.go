package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/parallax/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrSessionNotFound is returned when a session ID has no row.
var ErrSessionNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection holding recorded tracking sessions.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the session table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS tracking_sessions (
			id UUID PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			alpha DOUBLE PRECISION NOT NULL,
			max_missed INT NOT NULL,
			payload_format TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			frames INT NOT NULL DEFAULT 0,
			detections INT NOT NULL DEFAULT 0,
			held INT NOT NULL DEFAULT 0,
			absent INT NOT NULL DEFAULT 0,
			avg_fps DOUBLE PRECISION NOT NULL DEFAULT 0,
			jitter_x DOUBLE PRECISION NOT NULL DEFAULT 0,
			jitter_y DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency_mean_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency_p50_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency_p95_ms DOUBLE PRECISION NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS tracking_sessions_started_at_idx ON tracking_sessions (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateSession inserts a session row. A zero ID is replaced by a new UUID and returned.
func (s *Store) CreateSession(ctx context.Context, sess types.Session) (uuid.UUID, error) {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO tracking_sessions (id, label, source, alpha, max_missed, payload_format, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sess.ID, sess.Label, sess.Source, sess.Alpha, sess.MaxMissed, sess.PayloadFormat, sess.StartedAt)
	if err != nil {
		return uuid.Nil, err
	}
	return sess.ID, nil
}

// FinishSession stamps the end time and stores the performance summary.
func (s *Store) FinishSession(ctx context.Context, id uuid.UUID, endedAt time.Time, sum types.SessionSummary) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE tracking_sessions SET
			ended_at = $2, frames = $3, detections = $4, held = $5, absent = $6,
			avg_fps = $7, jitter_x = $8, jitter_y = $9,
			latency_mean_ms = $10, latency_p50_ms = $11, latency_p95_ms = $12
		WHERE id = $1
	`, id, endedAt, sum.Frames, sum.Detections, sum.Held, sum.Absent,
		sum.AvgFPS, sum.JitterX, sum.JitterY,
		sum.LatencyMeanMs, sum.LatencyP50Ms, sum.LatencyP95Ms)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

const sessionColumns = `id, label, source, alpha, max_missed, payload_format, started_at, ended_at,
	frames, detections, held, absent, avg_fps, jitter_x, jitter_y,
	latency_mean_ms, latency_p50_ms, latency_p95_ms`

func scanSession(row pgx.Row) (types.Session, error) {
	var sess types.Session
	sum := &sess.Summary
	err := row.Scan(&sess.ID, &sess.Label, &sess.Source, &sess.Alpha, &sess.MaxMissed, &sess.PayloadFormat,
		&sess.StartedAt, &sess.EndedAt,
		&sum.Frames, &sum.Detections, &sum.Held, &sum.Absent, &sum.AvgFPS, &sum.JitterX, &sum.JitterY,
		&sum.LatencyMeanMs, &sum.LatencyP50Ms, &sum.LatencyP95Ms)
	return sess, err
}

// ListSessions returns sessions newest first. limit <= 0 returns all of them.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM tracking_sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession loads one session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (types.Session, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+sessionColumns+` FROM tracking_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// LabelSession updates the human readable name of a session.
func (s *Store) LabelSession(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE tracking_sessions SET label = $1 WHERE id = $2", label, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS tracking_sessions CASCADE;`)
	return err
}
