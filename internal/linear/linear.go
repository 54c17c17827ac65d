// Package linear produces one output commit per patch-series revision: a
// linearized mirror of the pile branch's own history, where each commit's
// tree is the fully regenerated state of the series as of that revision.
// Output commits carry a note naming the pile commit that produced them,
// which is what makes reruns resumable.
package linear

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pilegen/pilegen/internal/gitx"
)

// EmptyTree is the identity of git's well-known empty tree object, used
// when the very first revision of the pile fails to regenerate.
const EmptyTree = gitx.OID("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

// notePrefix tags the annotation linking an output commit to the pile
// revision that generated it.
const notePrefix = "pile-commit: "

// noteReusedPrefix tags output commits whose tree was carried over from
// the last revision that regenerated successfully.
const noteReusedPrefix = "pile-commit-reused: "

// History is the slice of repository plumbing the orchestrator needs.
// Implemented by gitx.Repo.
type History interface {
	RevListReverse(ctx context.Context, spec string) ([]gitx.OID, error)
	RevList(ctx context.Context, spec string) ([]gitx.OID, error)
	RefExists(ctx context.Context, ref string) bool
	Note(ctx context.Context, ref string, rev gitx.OID) (string, error)
	AddNote(ctx context.Context, ref string, rev gitx.OID, message string) error
	TreeOf(ctx context.Context, commit gitx.OID) (gitx.OID, error)
	CatCommit(ctx context.Context, rev gitx.OID) ([]byte, error)
	WriteCommit(ctx context.Context, raw []byte) (gitx.OID, error)
	UpdateRef(ctx context.Context, branch string, commit gitx.OID) error
}

// Regenerator rebuilds the full series as of one pile revision and
// returns the tip of the regenerated chain. In production this wraps the
// regeneration engine over a pair of disposable worktrees.
type Regenerator interface {
	Regenerate(ctx context.Context, pileRev gitx.OID) (tip gitx.OID, err error)
}

// State describes what a run found to do.
type State int

const (
	// StateUninitialized means no prior output chain existed; the run
	// started from the beginning of the pile history.
	StateUninitialized State = iota

	// StateResuming means a prior chain and its annotation were found;
	// the run continued after the last processed revision.
	StateResuming

	// StateComplete means every known revision was already processed.
	StateComplete
)

// ResumeToken is the explicit resumption marker: the tip of the existing
// output chain and the last pile revision it covers. The zero value means
// "start from scratch". Passing the token in (rather than re-deriving it
// mid-run) keeps repeated invocations idempotent and testable.
type ResumeToken struct {
	LinearTip   gitx.OID
	LastPileRev gitx.OID
}

// Uninitialized reports whether no prior output chain exists.
func (t ResumeToken) Uninitialized() bool { return t.LinearTip == "" }

// FindResumePoint derives the resume token from the output branch: the
// newest output commit carrying a pile-commit annotation determines where
// processing stopped. Returns the zero token when the branch or its notes
// ref does not exist yet.
func FindResumePoint(ctx context.Context, h History, branch string) (ResumeToken, error) {
	if !h.RefExists(ctx, "refs/notes/"+branch) {
		return ResumeToken{}, nil
	}

	revs, err := h.RevList(ctx, branch)
	if err != nil || len(revs) == 0 {
		// a missing branch is a fresh start, not a failure
		return ResumeToken{}, nil
	}

	for _, rev := range revs {
		note, err := h.Note(ctx, branch, rev)
		if err != nil {
			return ResumeToken{}, err
		}
		for _, line := range strings.Split(note, "\n") {
			if rest, ok := strings.CutPrefix(line, notePrefix); ok {
				return ResumeToken{LinearTip: revs[0], LastPileRev: gitx.OID(strings.TrimSpace(rest))}, nil
			}
		}
	}
	return ResumeToken{}, nil
}

// Step describes one newly produced output commit, as passed to hooks.
type Step struct {
	Index   int // 1-based position within this run
	Total   int // revisions processed by this run
	PileRev gitx.OID
	Commit  gitx.OID

	// TreeReused is set when the revision failed to regenerate and the
	// previous good tree was carried over.
	TreeReused bool
}

// Hooks are optional side effects invoked once per newly produced output
// commit. Neither hook fires when there is nothing to do.
type Hooks struct {
	PreStep  func(ctx context.Context, s Step) error
	PostStep func(ctx context.Context, s Step) error
}

// Orchestrator drives linear-history regeneration.
type Orchestrator struct {
	hist     History
	regen    Regenerator
	log      *slog.Logger
	progress io.Writer
	hooks    Hooks
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithProgress sets the writer receiving per-revision progress lines.
func WithProgress(w io.Writer) Option {
	return func(o *Orchestrator) { o.progress = w }
}

// WithHooks installs the per-step side-effect hooks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// New builds an Orchestrator.
func New(hist History, regen Regenerator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		hist:     hist,
		regen:    regen,
		log:      slog.Default(),
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result reports what one linear run did.
type Result struct {
	State     State
	Processed int
	Tip       gitx.OID
}

// Run processes every revision of pileBranch that the token does not
// already cover, oldest first, in the pile branch's own history order,
// never skipping or reordering. Each revision yields exactly one output
// commit on branch, annotated with the revision that produced it.
//
// A revision that fails to regenerate does not abort the run: its output
// commit reuses the last good tree (or the empty tree when bootstrapping)
// and is annotated accordingly, keeping the one-commit-per-revision shape.
func (o *Orchestrator) Run(ctx context.Context, branch, pileBranch string, token ResumeToken) (*Result, error) {
	spec := pileBranch
	if token.LastPileRev != "" {
		spec = fmt.Sprintf("%s..%s", token.LastPileRev, pileBranch)
	}

	revs, err := o.hist.RevListReverse(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("list pile revisions: %w", err)
	}
	if len(revs) == 0 {
		return &Result{State: StateComplete, Tip: token.LinearTip}, nil
	}

	state := StateUninitialized
	if !token.Uninitialized() {
		state = StateResuming
	}

	parent := token.LinearTip
	var tree gitx.OID
	if parent != "" {
		tree, err = o.hist.TreeOf(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("read tree of output tip %s: %w", parent.Short(), err)
		}
	}

	var lastGood gitx.OID
	res := &Result{State: state, Tip: parent}

	for i, rev := range revs {
		fmt.Fprintf(o.progress, "Generating branch for %s (%d/%d)\n", rev.Short(), i+1, len(revs))

		step := Step{Index: i + 1, Total: len(revs), PileRev: rev}
		if o.hooks.PreStep != nil {
			if err := o.hooks.PreStep(ctx, step); err != nil {
				return res, fmt.Errorf("pre-step hook for %s: %w", rev.Short(), err)
			}
		}

		tip, regenErr := o.regen.Regenerate(ctx, rev)
		if regenErr == nil {
			tree, err = o.hist.TreeOf(ctx, tip)
			if err != nil {
				return res, fmt.Errorf("read tree of regenerated tip: %w", err)
			}
			lastGood = rev
		} else if parent == "" && tree == "" {
			o.log.Error("could not regenerate first revision, committing empty tree",
				"rev", rev.Short(), "error", regenErr)
			tree = EmptyTree
		} else {
			o.log.Error("could not regenerate revision, reusing previous tree",
				"rev", rev.Short(), "error", regenErr)
		}
		step.TreeReused = regenErr != nil && lastGood != rev

		raw, err := o.hist.CatCommit(ctx, rev)
		if err != nil {
			return res, fmt.Errorf("read pile commit %s: %w", rev.Short(), err)
		}
		commitRaw, err := synthesizeCommit(raw, tree, parent)
		if err != nil {
			return res, fmt.Errorf("build output commit for %s: %w", rev.Short(), err)
		}
		id, err := o.hist.WriteCommit(ctx, commitRaw)
		if err != nil {
			return res, err
		}
		step.Commit = id

		note := notePrefix + string(rev)
		if step.TreeReused && lastGood != "" {
			note += "\n" + noteReusedPrefix + string(lastGood)
		}
		if err := o.hist.AddNote(ctx, branch, id, note); err != nil {
			return res, fmt.Errorf("annotate output commit: %w", err)
		}
		if err := o.hist.UpdateRef(ctx, branch, id); err != nil {
			return res, fmt.Errorf("move branch %q: %w", branch, err)
		}

		if o.hooks.PostStep != nil {
			if err := o.hooks.PostStep(ctx, step); err != nil {
				return res, fmt.Errorf("post-step hook for %s: %w", rev.Short(), err)
			}
		}

		parent = id
		res.Processed++
		res.Tip = id
	}

	return res, nil
}
