// Package local provides the on-device key/value store used as the
// local-first cache of fundsync.
//
// Values are kept as JSON text in an embedded SQLite database (WAL mode), one
// row per logical key. Reads never fail: a missing key or unreadable row
// yields the caller's default. Writes fail soft: errors are logged and
// reported as false so a storage hiccup never takes the caller down.
//
// Layout:
//   - Database file: ~/.fundsync/local.db (configurable)
//   - Table: kv(key TEXT PRIMARY KEY, value TEXT, updated_at TEXT)
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Mschirtzinger/fundsync/internal/keys"
)

// Store is the SQLite-backed local store.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates or opens the local database at path and ensures the schema
// exists.
//
// The caller MUST call Close() when done.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[local] ", log.LstdFlags)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = "file:" + path
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A single writer keeps ":memory:" databases on one connection and
	// avoids SQLITE_BUSY on the in-place upserts.
	conn.SetMaxOpenConns(1)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: logger,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the kv table if it doesn't exist. Safe to call
// multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the value stored under key, or def when there is none.
func (s *Store) Load(key keys.Key, def any) any {
	raw, ok, err := s.LoadRaw(key)
	if err != nil {
		s.logger.Printf("Failed to read %s: %v", key, err)
		return def
	}
	if !ok {
		return def
	}
	return decodeValue(raw)
}

// LoadRaw returns the stored text for key without decoding it.
func (s *Store) LoadRaw(key keys.Key) (string, bool, error) {
	var raw string
	err := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, string(key)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query %s: %w", key, err)
	}
	return raw, true, nil
}

// Has reports whether key has a stored value.
func (s *Store) Has(key keys.Key) bool {
	_, ok, err := s.LoadRaw(key)
	if err != nil {
		s.logger.Printf("Failed to read %s: %v", key, err)
	}
	return ok
}

// Save stores value under key, replacing any previous value. It returns
// false (after logging) if the value cannot be encoded or written.
func (s *Store) Save(key keys.Key, value any) bool {
	raw, err := encodeValue(value)
	if err != nil {
		s.logger.Printf("Failed to save %s: %v", key, err)
		return false
	}
	if err := s.SaveRaw(key, raw); err != nil {
		s.logger.Printf("Failed to save %s: %v", key, err)
		return false
	}
	return true
}

// SaveRaw stores pre-encoded text under key. It exists for legacy values
// that predate JSON encoding.
func (s *Store) SaveRaw(key keys.Key, raw string) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.Exec(query, string(key), raw, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", key, err)
	}
	return nil
}

// Entry describes one stored row.
type Entry struct {
	Key       keys.Key  `json:"key"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entries lists the stored rows ordered by key.
func (s *Store) Entries() ([]Entry, error) {
	rows, err := s.conn.Query(`SELECT key, length(value), updated_at FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			key     string
			size    int
			updated string
		)
		if err := rows.Scan(&key, &size, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			s.logger.Printf("Warning: bad timestamp for %s: %v", key, err)
		}
		entries = append(entries, Entry{Key: keys.Key(key), Size: size, UpdatedAt: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}
