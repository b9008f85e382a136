// Package store owns the SQLite database shared by the alert history and
// the camera registry.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite connection and owns schema migration.
type Database struct {
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the database at dbPath and applies the schema.
func Open(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{db: db, dbPath: dbPath}
	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// DB returns the underlying connection.
func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) initSchema() error {
	schema := `
	-- Registered cameras
	CREATE TABLE IF NOT EXISTS cameras (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT,
		stream_url TEXT NOT NULL,
		enabled BOOLEAN DEFAULT 1,
		last_seen TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Alert history
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		camera_id TEXT NOT NULL,
		location_id TEXT,
		violation_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		description TEXT,
		confidence REAL,
		primary_object TEXT,
		snapshot_path TEXT,
		assignee TEXT,
		resolution_notes TEXT,
		raised_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_camera_raised ON alerts(camera_id, raised_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, raised_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(violation_type, raised_at);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
