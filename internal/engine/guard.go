package engine

import (
	"context"
	"path/filepath"
)

// WorktreeState exposes the pre-flight state queries the guards need.
// Implemented by gitx.Repo.
type WorktreeState interface {
	// BranchCheckoutPath returns where the branch is checked out, or "".
	BranchCheckoutPath(ctx context.Context, branch string) (string, error)

	// ApplyInProgress reports an underway git-am or git-rebase.
	ApplyInProgress(ctx context.Context) (bool, error)
}

// GuardInPlace refuses an in-place run that would corrupt live state: the
// current checkout being the pile checkout itself, or a patch application
// already underway. This is a state query, not a lock; callers serialize
// runs.
func GuardInPlace(ctx context.Context, wt WorktreeState, worktreeRoot, pileDir string) error {
	root, err1 := filepath.Abs(worktreeRoot)
	pdir, err2 := filepath.Abs(pileDir)
	if err1 == nil && err2 == nil && root == pdir {
		return &ConfigError{Msg: "wrong directory: can't reset over the pile branch checkout"}
	}

	busy, err := wt.ApplyInProgress(ctx)
	if err != nil {
		return err
	}
	if busy {
		return &InplaceError{Msg: "a git am or rebase is already in progress on this worktree"}
	}
	return nil
}

// GuardInPlaceBranch refuses an in-place run whose destination branch is
// checked out in another worktree. The run's own worktree is its target
// and is allowed; any other live checkout of the branch would be left
// behind the regenerated tip mid-run, so the run is refused before
// anything is mutated.
func GuardInPlaceBranch(ctx context.Context, wt WorktreeState, branch, worktreeRoot string) error {
	path, err := wt.BranchCheckoutPath(ctx, branch)
	if err != nil {
		return err
	}
	if path != "" && filepath.Clean(path) != filepath.Clean(worktreeRoot) {
		return &InplaceError{
			Branch: branch,
			Path:   path,
			Msg:    "refusing an in-place run over a branch checked out elsewhere",
		}
	}
	return nil
}

// GuardDestination checks whether moving branch is safe. It returns the
// path the branch is checked out at, or "" when it is not checked out
// anywhere. Without force, a checked-out destination is refused before
// anything is mutated; with force the caller resets that checkout to the
// new tip after a successful run.
func GuardDestination(ctx context.Context, wt WorktreeState, branch string, force bool) (string, error) {
	path, err := wt.BranchCheckoutPath(ctx, branch)
	if err != nil {
		return "", err
	}
	if path != "" && !force {
		return "", &InplaceError{
			Branch: branch,
			Path:   path,
			Msg:    "refusing to move it; use --force to reset that checkout",
		}
	}
	return path, nil
}
