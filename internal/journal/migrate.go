package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations, each applied once.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: deliveries",
		SQL: `
		CREATE TABLE IF NOT EXISTS deliveries (
			id            TEXT PRIMARY KEY,
			listener      TEXT NOT NULL,
			method        TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			elements      INTEGER DEFAULT 0,
			destinations  INTEGER DEFAULT 0,
			failures      INTEGER DEFAULT 0,
			error         TEXT DEFAULT '',
			duration_ms   INTEGER DEFAULT 0,
			created_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_time ON deliveries(created_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: text image counters",
		SQL: `
		ALTER TABLE deliveries ADD COLUMN text_images INTEGER DEFAULT 0;
		CREATE INDEX IF NOT EXISTS idx_deliveries_listener ON deliveries(listener, created_at);
		`,
	},
}

// runMigrations applies all pending migrations inside one transaction each.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := schemaVersionOf(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func schemaVersionOf(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
