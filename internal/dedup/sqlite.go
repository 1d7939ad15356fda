package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteTracker persists seen identifiers so duplicate detection survives
// restarts. Drop-in substitute for MemoryTracker behind the same interface.
type SQLiteTracker struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

func NewSQLiteTracker(dbPath string, ttl time.Duration, logger *slog.Logger) (*SQLiteTracker, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &SQLiteTracker{db: db, ttl: ttl, logger: logger}

	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return t, nil
}

func (t *SQLiteTracker) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_messages (
		id          TEXT PRIMARY KEY,
		first_seen  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_seen_first ON seen_messages(first_seen);
	`
	_, err := t.db.Exec(schema)
	return err
}

func (t *SQLiteTracker) SeenBefore(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if t.ttl > 0 {
		// Opportunistic pruning; failures only cost disk space.
		if _, err := t.db.ExecContext(ctx,
			`DELETE FROM seen_messages WHERE first_seen < ?`, time.Now().Add(-t.ttl),
		); err != nil {
			t.logger.Warn("dedup prune failed", "err", err)
		}
	}

	res, err := t.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_messages (id, first_seen) VALUES (?, ?)`,
		id, time.Now(),
	)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted == 0, nil
}

func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
