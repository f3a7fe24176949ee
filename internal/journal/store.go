// Package journal keeps a small audit trail of handled webhooks. Message
// content is never stored, only counts and outcomes.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Outcome classifies how a webhook was handled.
type Outcome string

const (
	OutcomeDelivered     Outcome = "delivered"
	OutcomeEmpty         Outcome = "empty"
	OutcomeTemplateError Outcome = "template_error"
	OutcomeDeliveryError Outcome = "delivery_error"
)

// Entry is one journal row.
type Entry struct {
	ID           string        `json:"id"`
	Listener     string        `json:"listener"`
	Method       string        `json:"method"`
	Outcome      Outcome       `json:"outcome"`
	Elements     int           `json:"elements"`
	TextImages   int           `json:"textImages"`
	Destinations int           `json:"destinations"`
	Failures     int           `json:"failures"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Store is a SQLite backed journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the journal at dbPath, migrates it and
// drops entries older than retention. A zero retention keeps everything.
func Open(ctx context.Context, dbPath string, retention time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	if retention > 0 {
		n, err := s.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			db.Close()
			return nil, err
		}
		if n > 0 {
			logger.Info("journal pruned", "removed", n, "retention", retention)
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts e, assigning an id and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries
		 (id, listener, method, outcome, elements, text_images, destinations, failures, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Listener, e.Method, string(e.Outcome), e.Elements, e.TextImages,
		e.Destinations, e.Failures, e.Error, e.Duration.Milliseconds(), e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("record delivery: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. An empty listener
// matches all listeners.
func (s *Store) Recent(ctx context.Context, listener string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, listener, method, outcome, elements, text_images, destinations, failures, error, duration_ms, created_at
		FROM deliveries`
	args := []any{}
	if listener != "" {
		query += ` WHERE listener = ?`
		args = append(args, listener)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			outcome string
			ms      int64
		)
		if err := rows.Scan(&e.ID, &e.Listener, &e.Method, &outcome, &e.Elements, &e.TextImages,
			&e.Destinations, &e.Failures, &e.Error, &ms, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries created before cutoff and reports how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks that the database is reachable and writable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS ping (x INTEGER)`)
	return err
}
