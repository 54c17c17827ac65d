package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pilegen/pilegen/internal/apply"
	"github.com/pilegen/pilegen/internal/engine"
	"github.com/pilegen/pilegen/internal/gitx"
	"github.com/pilegen/pilegen/internal/linear"
	"github.com/pilegen/pilegen/internal/pile"
)

// GenLinearBranchOptions holds flags for the genlinear-branch command.
type GenLinearBranchOptions struct {
	*RootOptions
	Branch        string
	PileBranch    string
	NoIncremental bool
	Force         bool
	NoCache       bool
	CachePath     string
}

// NewGenLinearBranchCommand creates the genlinear-branch command.
func NewGenLinearBranchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenLinearBranchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "genlinear-branch",
		Short: "Mirror the pile history as one commit per revision",
		Long: `Produce a linearized history: one output commit per revision of the
pile branch, each carrying the fully regenerated tree of the series as
of that revision, with author, committer and message copied from the
pile commit itself.

Runs resume where the previous one stopped, using the annotation each
output commit carries.

Example:
  pilegen genlinear-branch --branch internal-linear
  pilegen genlinear-branch --no-incremental`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenLinearBranch(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Branch, "branch", "b", "", "linear branch to (re)create")
	cmd.Flags().StringVar(&opts.PileBranch, "pile-branch", "", "branch carrying the pile history")
	cmd.Flags().BoolVar(&opts.NoIncremental, "no-incremental", false, "ignore the existing chain and process every revision")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "move the linear branch even where it is checked out")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "do not consult or record the commit cache")
	cmd.Flags().StringVar(&opts.CachePath, "cache-path", "", "non-default cache location (forces a full uncached rebuild this run)")

	return cmd
}

// genLinearResult is the JSON success payload.
type genLinearResult struct {
	Branch    string `json:"branch"`
	Tip       string `json:"tip,omitempty"`
	Processed int    `json:"processed"`
	Resumed   bool   `json:"resumed"`
}

func runGenLinearBranch(cmd *cobra.Command, opts *GenLinearBranchOptions) error {
	log := setupLogging(opts.Verbose)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	repo, err := gitx.Open(ctx, gitx.NewRunner(), ".")
	if err != nil {
		return WrapExitError(ExitCommandError, "not a git repository", err)
	}
	rc, err := LoadRepoConfig(repo.Root())
	if err != nil {
		return WrapExitError(ExitCommandError, "bad repository configuration", err)
	}

	branch := firstNonEmpty(opts.Branch, rc.LinearBranch)
	if branch == "" {
		return NewExitError(ExitCommandError, "no linear branch configured: pass --branch or set linear-branch in "+configFileName)
	}
	pileBranch := firstNonEmpty(opts.PileBranch, rc.PileBranch)
	if !repo.BranchExists(ctx, pileBranch) {
		return NewExitError(ExitCommandError, fmt.Sprintf("pile branch %q does not exist", pileBranch))
	}

	checkoutPath, err := engine.GuardDestination(ctx, repo, branch, opts.Force)
	if err != nil {
		return regenExitError(err)
	}

	token := linear.ResumeToken{}
	if !opts.NoIncremental {
		token, err = linear.FindResumePoint(ctx, repo, branch)
		if err != nil {
			return WrapExitError(ExitCommandError, "could not determine resume point", err)
		}
	}

	store, cacheIface := openCache(ctx, repo, rc, opts.NoCache, opts.CachePath, log, f)
	defer store.Close()

	regen := &worktreeRegenerator{
		repo:     repo,
		cache:    cacheIface,
		log:      log,
		progress: progressWriter(f),
	}
	defer regen.Close(ctx)

	orch := linear.New(repo, regen,
		linear.WithLogger(log), linear.WithProgress(progressWriter(f)))
	res, err := orch.Run(ctx, branch, pileBranch, token)
	if err != nil {
		return regenExitError(err)
	}

	if checkoutPath != "" && res.Processed > 0 {
		if err := repo.WorktreeAt(checkoutPath).ResetHard(ctx, res.Tip); err != nil {
			return WrapExitError(ExitCommandError, "could not reset linear branch checkout", err)
		}
	}

	if opts.Format == "json" {
		return f.Success(genLinearResult{
			Branch:    branch,
			Tip:       string(res.Tip),
			Processed: res.Processed,
			Resumed:   res.State == linear.StateResuming,
		})
	}
	if res.State == linear.StateComplete {
		return f.Success("Nothing to do.")
	}
	return f.Success(fmt.Sprintf("Processed %d revisions; branch %q now at %s.",
		res.Processed, branch, res.Tip.Short()))
}

// worktreeRegenerator rebuilds the full series for one pile revision. The
// pile contents are read straight from the revision's tree; only the
// result chain needs a disposable checkout, created lazily on the first
// revision and reused for the rest of the run.
type worktreeRegenerator struct {
	repo     *gitx.Repo
	cache    engine.Cache
	log      *slog.Logger
	progress io.Writer
	wt       *gitx.TempWorktree
}

func (r *worktreeRegenerator) Regenerate(ctx context.Context, pileRev gitx.OID) (gitx.OID, error) {
	p := pile.AtRevision(r.repo, pileRev)
	warnings, err := p.Validate(ctx)
	if err != nil {
		return "", err
	}
	for _, w := range warnings {
		r.log.Warn(w)
	}

	baseline, err := p.Baseline(ctx)
	if err != nil {
		return "", err
	}
	if baseline == "" {
		return "", fmt.Errorf("pile revision %s carries no baseline", pileRev.Short())
	}
	baselineOID, err := r.repo.RevParse(ctx, baseline)
	if err != nil {
		return "", fmt.Errorf("baseline of %s: %w", pileRev.Short(), err)
	}

	if r.wt == nil {
		wt, err := r.repo.TemporaryWorktree(ctx, baselineOID)
		if err != nil {
			return "", err
		}
		r.wt = wt
	}

	series, err := p.Series(ctx)
	if err != nil {
		return "", err
	}

	cfg := apply.Config{}
	eng := engine.New(r.repo, apply.NewGitApplier(r.wt.Repo, cfg), r.cache,
		engine.WithLogger(r.log), engine.WithProgress(r.progress))
	res, err := eng.Run(ctx, series, baselineOID, cfg)
	if err != nil {
		return "", err
	}
	return res.Tip, nil
}

// Close removes the disposable checkout, if one was created.
func (r *worktreeRegenerator) Close(ctx context.Context) {
	if r.wt != nil {
		r.wt.Remove(ctx)
		r.wt = nil
	}
}
