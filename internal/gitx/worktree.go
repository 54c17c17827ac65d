package gitx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// TempWorktree is a disposable detached checkout used as an isolated
// snapshot for out-of-place regeneration. Remove must always be called;
// it detaches the worktree from git's registry and deletes the directory.
type TempWorktree struct {
	Repo *Repo
	dir  string
	base *Repo
}

// TemporaryWorktree creates a detached checkout of commit in a fresh
// directory under the repository root. The UUID suffix keeps concurrent
// out-of-place runs from colliding.
func (r *Repo) TemporaryWorktree(ctx context.Context, commit OID) (*TempWorktree, error) {
	dir := filepath.Join(r.root, ".pilegen-worktree-"+uuid.NewString())
	_, err := r.run.Git(ctx, r.root, "worktree", "add", "--detach", "--checkout", dir, string(commit))
	if err != nil {
		return nil, fmt.Errorf("create temporary worktree at %s: %w", commit.Short(), err)
	}
	return &TempWorktree{Repo: r.WorktreeAt(dir), dir: dir, base: r}, nil
}

// Remove unregisters and deletes the temporary worktree. Safe to call
// after a failed run that left the checkout dirty.
func (w *TempWorktree) Remove(ctx context.Context) error {
	if w.dir == "" {
		return nil
	}
	_, err := w.base.run.Git(ctx, w.base.root, "worktree", "remove", "--force", w.dir)
	if err != nil {
		// fall back to deleting the directory; `git worktree prune`
		// collects the leftover registration later
		os.RemoveAll(w.dir)
	}
	w.dir = ""
	return err
}
