// Package store is the node's persisted key/value settings store, backed by
// sqlite. Values are stored as text; typed accessors parse on read.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/banshee-data/bike-tacho/internal/monitoring"
	_ "modernc.org/sqlite"
)

type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the sqlite database at path and applies
// all pending migrations.
func Open(path string) (*Store, error) {
	s, err := OpenUnmigrated(path)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenUnmigrated opens the database without touching its schema, for the
// migrate command.
func OpenUnmigrated(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	return &Store{DB: db, path: path}, nil
}

// NewMemory returns a migrated in-memory store. Every connection to
// ":memory:" is a separate database, so the pool is pinned to one.
func NewMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{DB: db, path: ":memory:"}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// Get returns the raw value for key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	var v string
	err := s.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

// Has reports whether key exists.
func (s *Store) Has(key string) bool {
	_, ok, err := s.Get(key)
	if err != nil {
		monitoring.Logf("store: %v", err)
	}
	return ok
}

// Set writes value under key, replacing any previous value.
func (s *Store) Set(key, value string) error {
	_, err := s.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CAST(strftime('%s', 'now') AS INTEGER))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Rename moves the value of oldKey to newKey when newKey is absent and
// oldKey is present. The old key is removed either way once newKey exists.
// It reports whether a value was moved.
func (s *Store) Rename(oldKey, newKey string) (bool, error) {
	tx, err := s.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin rename: %w", err)
	}
	defer tx.Rollback()

	var oldVal string
	err = tx.QueryRow(`SELECT value FROM settings WHERE key = ?`, oldKey).Scan(&oldVal)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", oldKey, err)
	}

	res, err := tx.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, newKey, oldVal)
	if err != nil {
		return false, fmt.Errorf("failed to write %s: %w", newKey, err)
	}
	moved, _ := res.RowsAffected()
	if _, err := tx.Exec(`DELETE FROM settings WHERE key = ?`, oldKey); err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", oldKey, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit rename: %w", err)
	}
	return moved > 0, nil
}

// All returns every setting.
func (s *Store) All() (map[string]string, error) {
	rows, err := s.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Keys returns the sorted list of stored keys.
func (s *Store) Keys() ([]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// String returns the value for key or def when it is missing or unreadable.
func (s *Store) String(key, def string) string {
	v, ok, err := s.Get(key)
	if err != nil {
		monitoring.Logf("store: %v", err)
		return def
	}
	if !ok {
		return def
	}
	return v
}

// Int returns the integer value for key or def when missing or malformed.
func (s *Store) Int(key string, def int) int {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		monitoring.Logf("store: key=%s value=%q is not an integer", key, v)
		return def
	}
	return n
}

// Int64 is Int for 64-bit values such as timestamps.
func (s *Store) Int64(key string, def int64) int64 {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		monitoring.Logf("store: key=%s value=%q is not an integer", key, v)
		return def
	}
	return n
}

// Float returns the float value for key or def when missing or malformed.
func (s *Store) Float(key string, def float64) float64 {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		monitoring.Logf("store: key=%s value=%q is not a number", key, v)
		return def
	}
	return f
}

// Bool returns the boolean value for key or def when missing or malformed.
func (s *Store) Bool(key string, def bool) bool {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		monitoring.Logf("store: key=%s value=%q is not a bool", key, v)
		return def
	}
	return b
}

func (s *Store) SetInt(key string, v int) error { return s.Set(key, strconv.Itoa(v)) }

func (s *Store) SetInt64(key string, v int64) error {
	return s.Set(key, strconv.FormatInt(v, 10))
}

func (s *Store) SetFloat(key string, v float64) error {
	return s.Set(key, strconv.FormatFloat(v, 'f', -1, 64))
}

func (s *Store) SetBool(key string, v bool) error { return s.Set(key, strconv.FormatBool(v)) }
