// Package audit persists the auction event stream into a queryable trail.
// Operators resolve failed settlements from here; the write path of the
// core never depends on it.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Record is one audited auction event.
type Record struct {
	EventID   string
	AuctionID string
	Type      string
	Payload   []byte
}

// Writer appends audit records to PostgreSQL.
type Writer struct {
	db *sql.DB
}

// NewWriter connects to PostgreSQL and configures the pool.
func NewWriter(connStr string) (*Writer, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Writer{db: db}, nil
}

// InitSchema creates the audit table.
func (w *Writer) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		event_id VARCHAR(64) PRIMARY KEY,
		auction_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		payload JSONB NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_auction_id ON audit_events(auction_id);
	`
	if _, err := w.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Append stores a record. Delivery is at-least-once, so replays of the same
// event id are silently absorbed.
func (w *Writer) Append(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO audit_events (event_id, auction_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`
	if _, err := w.db.ExecContext(ctx, query, rec.EventID, rec.AuctionID, rec.Type, rec.Payload); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (w *Writer) Close() error {
	return w.db.Close()
}
