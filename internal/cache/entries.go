package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Lookup returns the commit recorded for the exact (parent, fingerprint,
// signature) key, or ok=false on a miss. The caller must still verify the
// returned commit resolves in the object store; a pruned commit is a miss,
// not an error.
func (s *Store) Lookup(ctx context.Context, parent, fingerprint, signature string) (commit string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT commit_id FROM entries
		WHERE parent = ? AND fingerprint = ? AND signature = ?
	`, parent, fingerprint, signature).Scan(&commit)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	return commit, true, nil
}

// Record upserts an entry. Re-recording the same key is idempotent; a
// changed commit for an existing key overwrites the stale value, which is
// how entries invalidated by garbage collection get repaired on the next
// successful run.
func (s *Store) Record(ctx context.Context, parent, fingerprint, signature, commit string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (parent, fingerprint, signature, commit_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(parent, fingerprint, signature)
		DO UPDATE SET commit_id = excluded.commit_id, updated_at = excluded.updated_at
	`, parent, fingerprint, signature, commit, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cache record: %w", err)
	}
	return nil
}

// Forget drops the entry for a key. Used when a lookup returned a commit
// that no longer resolves, so the stale pointer is not served again.
func (s *Store) Forget(ctx context.Context, parent, fingerprint, signature string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM entries
		WHERE parent = ? AND fingerprint = ? AND signature = ?
	`, parent, fingerprint, signature)
	if err != nil {
		return fmt.Errorf("cache forget: %w", err)
	}
	return nil
}

// Len returns the number of entries. Used by tests and diagnostics.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}
