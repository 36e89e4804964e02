package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/google/uuid"
)

// PostgresLog is a durable Log backed by a PostgreSQL table, grounded on
// the connection-pooling conventions of this codebase's database client.
type PostgresLog struct {
	db *sql.DB
}

// PostgresLogOption configures a PostgresLog at construction time.
type PostgresLogOption func(*sql.DB)

// WithMaxOpenConns caps the number of open connections in the pool.
func WithMaxOpenConns(n int) PostgresLogOption {
	return func(db *sql.DB) { db.SetMaxOpenConns(n) }
}

// NewPostgresLog opens a connection pool against databaseURL, verifies it
// with a ping, and ensures the backing table exists.
func NewPostgresLog(ctx context.Context, databaseURL string, opts ...PostgresLogOption) (*PostgresLog, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("eventlog: database URL cannot be empty")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open database: %w", err)
	}

	for _, opt := range opts {
		opt(db)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: ensure schema: %w", err)
	}

	return &PostgresLog{db: db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS orchestrator_events (
	id         UUID PRIMARY KEY,
	intent_id  UUID NOT NULL,
	step_id    UUID,
	kind       TEXT NOT NULL,
	detail     JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orchestrator_events_intent_id_idx
	ON orchestrator_events (intent_id, created_at);
`

// Append inserts ev into the orchestrator_events table.
func (l *PostgresLog) Append(ctx context.Context, ev Event) error {
	detailJSON, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("eventlog: marshal detail: %w", err)
	}

	var stepID sql.NullString
	if ev.StepID != uuid.Nil {
		stepID = sql.NullString{String: ev.StepID.String(), Valid: true}
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO orchestrator_events (id, intent_id, step_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.IntentID, stepID, string(ev.Kind), detailJSON, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("eventlog: append event: %w", err)
	}
	return nil
}

// Replay returns every event recorded for intentID, ordered by creation
// time.
func (l *PostgresLog) Replay(ctx context.Context, intentID uuid.UUID) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, intent_id, step_id, kind, detail, created_at
		FROM orchestrator_events
		WHERE intent_id = $1
		ORDER BY created_at ASC`, intentID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: replay: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev         Event
			stepID     sql.NullString
			detailJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.IntentID, &stepID, &ev.Kind, &detailJSON, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}
		if stepID.Valid {
			parsed, err := uuid.Parse(stepID.String)
			if err != nil {
				return nil, fmt.Errorf("eventlog: parse step_id: %w", err)
			}
			ev.StepID = parsed
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
				return nil, fmt.Errorf("eventlog: unmarshal detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying connection pool.
func (l *PostgresLog) Close() error {
	return l.db.Close()
}
