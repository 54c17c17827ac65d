package gitx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Repo is a handle to one git worktree. Methods that mutate state operate
// on the worktree the Repo was opened at; a Repo opened via WorktreeAt
// shares the object store but has its own checkout.
type Repo struct {
	run  Runner
	root string
}

// Open locates the repository containing dir. It fails when dir is not
// inside a git worktree.
func Open(ctx context.Context, run Runner, dir string) (*Repo, error) {
	out, err := run.Git(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not inside a git repository: %w", err)
	}
	return &Repo{run: run, root: strings.TrimSpace(string(out))}, nil
}

// WorktreeAt returns a Repo handle rooted at a different checkout of the
// same repository.
func (r *Repo) WorktreeAt(dir string) *Repo {
	return &Repo{run: r.run, root: dir}
}

// Root returns the top-level directory of the worktree.
func (r *Repo) Root() string { return r.root }

// Runner exposes the underlying runner for callers that need raw plumbing.
func (r *Repo) Runner() Runner { return r.run }

// GitDir returns the git directory for this worktree (".git" or the
// per-worktree directory under the common dir).
func (r *Repo) GitDir(ctx context.Context) (string, error) {
	out, err := r.run.Git(ctx, r.root, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.root, dir)
	}
	return dir, nil
}

// RevParse resolves a revision to an object identity.
func (r *Repo) RevParse(ctx context.Context, rev string) (OID, error) {
	out, err := r.run.Git(ctx, r.root, "rev-parse", "--verify", rev+"^{object}")
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rev, err)
	}
	return OID(strings.TrimSpace(string(out))), nil
}

// ObjectExists reports whether id still resolves to a retrievable object.
// A pruned object is a plain false, not an error.
func (r *Repo) ObjectExists(ctx context.Context, id OID) bool {
	_, err := r.run.Git(ctx, r.root, "cat-file", "-e", string(id))
	return err == nil
}

// RefExists reports whether the fully qualified ref exists.
func (r *Repo) RefExists(ctx context.Context, ref string) bool {
	_, err := r.run.Git(ctx, r.root, "show-ref", "--verify", "--quiet", ref)
	return err == nil
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(ctx context.Context, branch string) bool {
	return r.RefExists(ctx, "refs/heads/"+branch)
}

// UpdateRef fast-moves (or creates) a branch ref to point at commit.
func (r *Repo) UpdateRef(ctx context.Context, branch string, commit OID) error {
	_, err := r.run.Git(ctx, r.root, "update-ref", "refs/heads/"+branch, string(commit))
	return err
}

// CheckoutBranch forcibly (re)creates branch at commit and checks it out
// in this worktree.
func (r *Repo) CheckoutBranch(ctx context.Context, branch string, commit OID) error {
	_, err := r.run.Git(ctx, r.root, "checkout", "-f", "-B", branch, string(commit))
	return err
}

// ResetHard resets the worktree and index to commit.
func (r *Repo) ResetHard(ctx context.Context, commit OID) error {
	_, err := r.run.Git(ctx, r.root, "reset", "--hard", string(commit))
	return err
}

// Head returns the commit currently checked out in this worktree.
func (r *Repo) Head(ctx context.Context) (OID, error) {
	return r.RevParse(ctx, "HEAD")
}

// TreeOf returns the tree identity of a commit.
func (r *Repo) TreeOf(ctx context.Context, commit OID) (OID, error) {
	out, err := r.run.Git(ctx, r.root, "log", "--format=%T", "-1", string(commit))
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(string(out))), nil
}

// CatCommit returns the raw commit object bytes for rev.
func (r *Repo) CatCommit(ctx context.Context, rev OID) ([]byte, error) {
	return r.run.Git(ctx, r.root, "cat-file", "commit", string(rev))
}

// WriteCommit writes a raw commit object into the object store and returns
// its identity.
func (r *Repo) WriteCommit(ctx context.Context, raw []byte) (OID, error) {
	out, err := r.run.GitInput(ctx, r.root, strings.NewReader(string(raw)),
		"hash-object", "-t", "commit", "-w", "--stdin")
	if err != nil {
		return "", fmt.Errorf("write commit object: %w", err)
	}
	id := OID(strings.TrimSpace(string(out)))
	if id == "" {
		return "", fmt.Errorf("write commit object: empty hash from git")
	}
	return id, nil
}

// RevListReverse lists commits reachable through spec oldest first,
// skipping merges. spec is anything rev-list accepts ("a..b" or a branch).
func (r *Repo) RevListReverse(ctx context.Context, spec string) ([]OID, error) {
	out, err := r.run.Git(ctx, r.root, "rev-list", "--no-merges", "--reverse", spec)
	if err != nil {
		return nil, err
	}
	return splitOIDs(out), nil
}

// RevList lists commits reachable through spec newest first, skipping
// merges.
func (r *Repo) RevList(ctx context.Context, spec string) ([]OID, error) {
	out, err := r.run.Git(ctx, r.root, "rev-list", "--no-merges", spec)
	if err != nil {
		return nil, err
	}
	return splitOIDs(out), nil
}

// Note returns the note attached to rev under refs/notes/<ref>, or ""
// when the commit has no note.
func (r *Repo) Note(ctx context.Context, ref string, rev OID) (string, error) {
	out, err := r.run.Git(ctx, r.root, "notes", "--ref="+ref, "show", string(rev))
	if err != nil {
		if ExitCode(err) == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// AddNote attaches (overwriting) a note to rev under refs/notes/<ref>.
func (r *Repo) AddNote(ctx context.Context, ref string, rev OID, message string) error {
	_, err := r.run.Git(ctx, r.root, "notes", "--ref="+ref, "add", "-f", "-m", message, string(rev))
	return err
}

// BranchCheckoutPath returns the path the branch is checked out at in any
// worktree of the repository, or "" when it is not checked out anywhere.
func (r *Repo) BranchCheckoutPath(ctx context.Context, branch string) (string, error) {
	out, err := r.run.Git(ctx, r.root, "worktree", "list", "--porcelain")
	if err != nil {
		return "", err
	}

	var path string
	attrs := map[string]string{}
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			if attrs["branch"] == "refs/heads/"+branch {
				path = attrs["worktree"]
				break
			}
			attrs = map[string]string{}
			continue
		}
		key, val, _ := strings.Cut(line, " ")
		attrs[key] = val
	}

	// worktree list can lag reality after manual directory removal
	if path == "" {
		return "", nil
	}
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return path, nil
}

// ApplyInProgress reports whether a git-am or git-rebase is underway in
// this worktree. Regeneration refuses to touch such a checkout.
func (r *Repo) ApplyInProgress(ctx context.Context) (bool, error) {
	gitdir, err := r.GitDir(ctx)
	if err != nil {
		return false, err
	}
	for _, marker := range []string{"rebase-apply", "rebase-merge"} {
		if _, err := os.Stat(filepath.Join(gitdir, marker)); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// IsClean reports whether the worktree has no staged or unstaged changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.run.Git(ctx, r.root, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) == "", nil
}

// CommitterIdent returns the committer identity git would use, with the
// timestamp trimmed off. Used to tell apart cache namespaces per identity.
func (r *Repo) CommitterIdent(ctx context.Context) (string, error) {
	out, err := r.run.Git(ctx, r.root, "var", "GIT_COMMITTER_IDENT")
	if err != nil {
		return "", err
	}
	ident := strings.TrimSpace(string(out))
	// drop "<timestamp> <tz>" from "Name <email> 1700000000 +0000"
	if i := strings.LastIndexByte(ident, '>'); i >= 0 {
		ident = ident[:i+1]
	}
	return ident, nil
}

func splitOIDs(out []byte) []OID {
	fields := strings.Fields(string(out))
	ids := make([]OID, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, OID(f))
	}
	return ids
}
