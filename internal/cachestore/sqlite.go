package cachestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a persistent Store backed by a local SQLite database, for
// deployments that want cache hits to survive a process restart. Expired
// rows are lazily deleted on Get; there is no background sweeper.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite-backed cache at dsn.
func NewSQLite(dsn string) (*SQLite, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "gateway-cache.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping sqlite cache: %w", err)
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS inference_cache (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	expires_at TIMESTAMP NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("initialize cache schema: %w", err)
	}
	return nil
}

// Get returns the cached Data for key, or false if missing or expired. An
// expired row is deleted as a side effect.
func (s *SQLite) Get(key string) (*Data, bool) {
	var raw []byte
	var expiresAt time.Time
	err := s.db.QueryRow(`SELECT data, expires_at FROM inference_cache WHERE key = ?`, key).Scan(&raw, &expiresAt)
	if err != nil {
		return nil, false
	}
	if time.Now().After(expiresAt) {
		_, _ = s.db.Exec(`DELETE FROM inference_cache WHERE key = ?`, key)
		return nil, false
	}

	var w wireData
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false
	}
	data, err := fromWire(&w)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set upserts data under key with the given TTL.
func (s *SQLite) Set(key string, data *Data, ttl time.Duration) {
	w, err := toWire(data)
	if err != nil {
		return
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	_, _ = s.db.Exec(`
INSERT INTO inference_cache(key, data, expires_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, raw, time.Now().Add(ttl))
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }
