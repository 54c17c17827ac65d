package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pilegen/pilegen/internal/gitx"
	"github.com/pilegen/pilegen/internal/pile"
)

// Applier produces a commit from a parent commit and a patch. The
// regeneration orchestrator calls it on every cache miss.
type Applier interface {
	Apply(ctx context.Context, parent gitx.OID, p pile.Patch) (gitx.OID, error)
}

// GitApplier applies patches with git-am inside a dedicated worktree. The
// worktree is the applier's scratch space: callers must not touch it while
// a run is in flight.
//
// Committer dates follow author dates so that re-applying identical input
// yields byte-identical commits.
type GitApplier struct {
	wt  *gitx.Repo
	run gitx.Runner
	cfg Config
}

// NewGitApplier builds an applier over the given worktree. The configured
// committer overrides are applied through the environment of every git
// invocation.
func NewGitApplier(wt *gitx.Repo, cfg Config) *GitApplier {
	return &GitApplier{
		wt:  wt,
		run: gitx.NewRunner(cfg.Env()...),
		cfg: cfg,
	}
}

// Apply creates a new commit on top of parent from the patch's diff and
// metadata. The produced commit's parent is exactly the given parent, its
// message and author come from the patch. On failure the worktree is
// restored and the returned error names the offending patch.
func (a *GitApplier) Apply(ctx context.Context, parent gitx.OID, p pile.Patch) (gitx.OID, error) {
	if p.AuthorEmail == "" {
		return "", &Error{
			Code:   ErrCodeMissingAuthor,
			Patch:  p.Name,
			Detail: "patch has no From header and no default identity is configured",
		}
	}

	if err := a.ensureParent(ctx, parent); err != nil {
		return "", err
	}

	patchFile, err := a.writePatchFile(p)
	if err != nil {
		return "", err
	}
	defer os.Remove(patchFile)

	whitespace := "--whitespace=warn"
	if a.cfg.FixWhitespace {
		whitespace = "--whitespace=fix"
	}
	args := []string{
		"-c", "core.splitIndex=true",
		"am", "--no-3way", whitespace, "--committer-date-is-author-date",
		patchFile,
	}

	if _, err := a.run.Git(ctx, a.wt.Root(), args...); err != nil {
		applyErr := a.classify(err, p, parent)
		// leave the worktree usable for the next attempt
		a.run.Git(ctx, a.wt.Root(), "am", "--abort")
		return "", applyErr
	}

	out, err := a.run.Git(ctx, a.wt.Root(), "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("read applied commit: %w", err)
	}
	return gitx.OID(strings.TrimSpace(string(out))), nil
}

// ensureParent resets the worktree onto parent when HEAD differs. A cache
// hit in the middle of the series moves the effective parent without an
// apply, so this cannot assume HEAD advanced one commit at a time.
func (a *GitApplier) ensureParent(ctx context.Context, parent gitx.OID) error {
	out, err := a.run.Git(ctx, a.wt.Root(), "rev-parse", "HEAD")
	if err == nil && gitx.OID(strings.TrimSpace(string(out))) == parent {
		return nil
	}
	if _, err := a.run.Git(ctx, a.wt.Root(), "reset", "--hard", string(parent)); err != nil {
		return fmt.Errorf("reset worktree to %s: %w", parent.Short(), err)
	}
	return nil
}

func (a *GitApplier) writePatchFile(p pile.Patch) (string, error) {
	f, err := os.CreateTemp("", "pilegen-*.patch")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(p.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// classify maps git-am failures onto the apply error taxonomy by
// inspecting stderr.
func (a *GitApplier) classify(err error, p pile.Patch, parent gitx.OID) error {
	var ce *gitx.CmdError
	detail := ""
	if errors.As(err, &ce) {
		detail = strings.TrimSpace(ce.Stderr)
	}

	code := ErrCodeConflict
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "missing author") ||
		strings.Contains(lower, "invalid ident") ||
		strings.Contains(lower, "e-mail address"):
		code = ErrCodeMissingAuthor
	case strings.Contains(lower, "while searching for") ||
		strings.Contains(lower, "does not match index") ||
		strings.Contains(lower, "patch does not apply"):
		code = ErrCodeAmbiguousContext
	}

	return &Error{
		Code:   code,
		Patch:  p.Name,
		Parent: parent.Short(),
		Detail: firstLine(detail),
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return string(bytes.TrimSpace([]byte(line)))
}
