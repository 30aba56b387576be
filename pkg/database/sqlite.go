package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// NewSQLiteDB opens (creating if needed) the SQLite file at path using the pure-Go driver.
// ":memory:" opens a private in-memory database.
func NewSQLiteDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}

		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY; the snapshot is written once and read once.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	slog.Debug("Opened SQLite database", "path", path)

	return db, nil
}
