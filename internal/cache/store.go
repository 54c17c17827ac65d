// Package cache persists the mapping from (parent commit, patch
// fingerprint, applier configuration signature) to previously produced
// commits. The store is engine-owned: it must survive process restarts and
// partial repository garbage collection, and a broken store degrades to an
// empty one: caching trouble never fails a regeneration.
package cache

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (entries arena keyed by parent/fingerprint/signature)
const currentSchemaVersion = 1

// Store is the persisted cache arena backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the cache database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - a single connection (SQLite supports one writer at a time)
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to cache database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// OpenOrRecover opens the cache at path, treating an unreadable or corrupt
// store as a soft failure: the bad file is moved aside and a fresh empty
// store takes its place. Regeneration always stays possible; only caching
// performance is lost. Returns nil (meaning: run uncached) when even a
// fresh store cannot be created.
func OpenOrRecover(path string, log *slog.Logger) *Store {
	st, err := Open(path)
	if err == nil {
		return st
	}
	log.Warn("cache unusable, starting over with an empty cache", "path", path, "error", err)

	if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil && !os.IsNotExist(renameErr) {
		log.Warn("could not move corrupt cache aside", "error", renameErr)
		return nil
	}
	st, err = Open(path)
	if err != nil {
		log.Warn("could not create fresh cache, proceeding uncached", "error", err)
		return nil
	}
	return st
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location this store was opened at.
func (s *Store) Path() string { return s.path }

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and stamps the schema
// version. A database from a different schema version is wiped rather
// than migrated piecemeal: cache contents are reconstructible by one full
// regeneration, so dropping them is always safe.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version != 0 && version != currentSchemaVersion {
		if _, err := db.Exec("DROP TABLE IF EXISTS entries"); err != nil {
			return fmt.Errorf("drop outdated schema: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
