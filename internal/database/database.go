package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

// Store is the sqlite backed persistence for alerts and bot metrics.
type Store struct {
	db *sql.DB
}

// Every statement is auto-committed with synchronous(FULL), so a write is on disk when Exec returns.
const pragmas = "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("database path is required")
	}

	cleanPath := filepath.Clean(dbPath)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", cleanPath+pragmas)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	createTableQuery := `
	CREATE TABLE IF NOT EXISTS alerts (
		symbol TEXT PRIMARY KEY,
		threshold REAL NOT NULL,
		direction TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT 0
	);`
	if _, err = db.Exec(createTableQuery); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create alerts table")
	}

	createMetricsTable := `
		CREATE TABLE IF NOT EXISTS metrics (
		metric_name TEXT NOT NULL,
		label_key TEXT NOT NULL DEFAULT '',
		label_value TEXT NOT NULL DEFAULT '',
		metric_value REAL NOT NULL,
		PRIMARY KEY (metric_name, label_key, label_value)
	);`
	if _, err = db.Exec(createMetricsTable); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create metrics table")
	}

	log.Debugf("Database initialized at %s", cleanPath)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
