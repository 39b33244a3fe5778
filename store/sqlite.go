package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	schema_name    TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	store_name     TEXT NOT NULL,
	entry_key      TEXT NOT NULL,
	entry_value    BLOB NOT NULL,
	time_cached_ms INTEGER NOT NULL,
	PRIMARY KEY (schema_name, schema_version, store_name, entry_key)
)`

// SQLiteProvider persists cache entries in a single SQLite database so they
// survive process restarts. All stores share one table keyed by
// (schema name, schema version, store name, entry key).
type SQLiteProvider struct {
	db *sql.DB

	now func() time.Time
}

// OpenSQLiteProvider opens (creating if needed) the database at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLiteProvider(path string) (*SQLiteProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite cache path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite cache: %w", err)
	}
	if _, err := db.Exec(createCacheTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	return &SQLiteProvider{db: db, now: time.Now}, nil
}

func (p *SQLiteProvider) Open(schema Schema, storeName string) (Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if !schema.HasStore(storeName) {
		return nil, &UnknownStoreError{Schema: schema.Name, Store: storeName}
	}

	// A version bump invalidates everything previously persisted under
	// this schema name.
	_, err := p.db.Exec(
		`DELETE FROM cache_entries WHERE schema_name = ? AND schema_version <> ?`,
		schema.Name, schema.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("drop stale schema versions: %w", err)
	}

	return &sqliteStore{
		db:      p.db,
		schema:  schema.Name,
		version: schema.Version,
		store:   storeName,
		now:     p.clock,
	}, nil
}

func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func (p *SQLiteProvider) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

type sqliteStore struct {
	db      *sql.DB
	schema  string
	version string
	store   string
	now     func() time.Time
}

func (s *sqliteStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry_value, time_cached_ms FROM cache_entries
		 WHERE schema_name = ? AND schema_version = ? AND store_name = ? AND entry_key = ?`,
		s.schema, s.version, s.store, key,
	)

	var value []byte
	var cachedMillis int64
	if err := row.Scan(&value, &cachedMillis); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	return &Entry{
		TimeCached: time.UnixMilli(cachedMillis).UTC(),
		Value:      value,
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (schema_name, schema_version, store_name, entry_key, entry_value, time_cached_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (schema_name, schema_version, store_name, entry_key)
		 DO UPDATE SET entry_value = excluded.entry_value, time_cached_ms = excluded.time_cached_ms`,
		s.schema, s.version, s.store, key, value, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE schema_name = ? AND schema_version = ? AND store_name = ?`,
		s.schema, s.version, s.store,
	)
	if err != nil {
		return fmt.Errorf("clear cache store: %w", err)
	}
	return nil
}
