package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pilegen/pilegen/internal/apply"
	"github.com/pilegen/pilegen/internal/cache"
	"github.com/pilegen/pilegen/internal/engine"
	"github.com/pilegen/pilegen/internal/gitx"
	"github.com/pilegen/pilegen/internal/pile"
)

// GenBranchOptions holds flags for the genbranch command.
type GenBranchOptions struct {
	*RootOptions
	Branch         string
	Baseline       string
	PileDir        string
	SourceRev      string
	Inplace        bool
	Force          bool
	Quiet          bool
	NoCache        bool
	CachePath      string
	FixWhitespace  bool
	CommitterName  string
	CommitterEmail string
}

// NewGenBranchCommand creates the genbranch command.
func NewGenBranchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenBranchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "genbranch",
		Short: "Regenerate the result branch from the patch pile",
		Long: `Regenerate the result branch by applying the pile's patch series,
in order, on top of the configured baseline commit.

Commits built on an earlier run are reused whenever a patch's content,
its parent commit and the apply configuration are all unchanged, so an
untouched pile regenerates without applying anything.

Example:
  pilegen genbranch
  pilegen genbranch --branch internal --force
  pilegen genbranch --inplace`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenBranch(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Branch, "branch", "b", "", "result branch to (re)create")
	cmd.Flags().StringVarP(&opts.Baseline, "baseline", "x", "", "override the baseline recorded in the pile config")
	cmd.Flags().StringVar(&opts.PileDir, "pile-dir", "", "path to the pile checkout")
	cmd.Flags().StringVar(&opts.SourceRev, "source-rev", "", "generate from this pile branch revision instead of the checkout")
	cmd.Flags().BoolVarP(&opts.Inplace, "inplace", "i", false, "apply in the current worktree instead of a disposable one")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "reset the result branch even where it is checked out")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress per-patch progress output")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "do not consult or record the commit cache")
	cmd.Flags().StringVar(&opts.CachePath, "cache-path", "", "non-default cache location (forces a full uncached rebuild this run)")
	cmd.Flags().BoolVar(&opts.FixWhitespace, "fix-whitespace", false, "fix whitespace errors while applying (disables caching)")
	cmd.Flags().StringVar(&opts.CommitterName, "committer-name", "", "override the committer name (disables caching)")
	cmd.Flags().StringVar(&opts.CommitterEmail, "committer-email", "", "override the committer email (disables caching)")

	return cmd
}

// genBranchResult is the JSON success payload.
type genBranchResult struct {
	Branch   string `json:"branch,omitempty"`
	Tip      string `json:"tip"`
	Baseline string `json:"baseline"`
	Total    int    `json:"total"`
	Applied  int    `json:"applied"`
	Reused   int    `json:"reused"`
}

func runGenBranch(cmd *cobra.Command, opts *GenBranchOptions) error {
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

	branch := firstNonEmpty(opts.Branch, rc.ResultBranch)
	pileDir := firstNonEmpty(opts.PileDir, rc.PileDir)
	if !filepath.IsAbs(pileDir) {
		pileDir = filepath.Join(repo.Root(), pileDir)
	}

	var p *pile.Pile
	if opts.SourceRev != "" {
		rev, err := repo.RevParse(ctx, opts.SourceRev)
		if err != nil {
			return WrapExitError(ExitCommandError, "bad --source-rev", err)
		}
		p = pile.AtRevision(repo, rev)
	} else {
		p = pile.Open(pileDir)
	}
	warnings, err := p.Validate(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "unusable pile", err)
	}
	for _, w := range warnings {
		f.Warnf("%s", w)
	}

	if override := firstNonEmpty(opts.Baseline, rc.Baseline); override != "" {
		p.OverrideBaseline(override)
	}
	baseline, err := p.Baseline(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "unusable pile", err)
	}
	if baseline == "" {
		return NewExitError(ExitCommandError, "no baseline configured: the pile config carries no BASELINE and none was passed")
	}
	baselineOID, err := repo.RevParse(ctx, baseline)
	if err != nil {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("baseline %q does not resolve; it may have been pruned and needs to be fetched again", baseline), err)
	}

	cfg := apply.Config{
		CommitterName:  firstNonEmpty(opts.CommitterName, rc.CommitterName),
		CommitterEmail: firstNonEmpty(opts.CommitterEmail, rc.CommitterEmail),
		FixWhitespace:  opts.FixWhitespace || rc.FixWhitespace,
	}

	store, cacheIface := openCache(ctx, repo, rc, opts.NoCache, opts.CachePath, log, f)
	defer store.Close()

	// Pick the worktree patches are applied in and pre-flight its state
	// before anything is mutated.
	var (
		applier      apply.Applier
		checkoutPath string
	)
	if opts.Inplace {
		if err := engine.GuardInPlace(ctx, repo, repo.Root(), pileDir); err != nil {
			return regenExitError(err)
		}
		// Park this worktree on the destination at the baseline before any
		// patch lands, so only the result branch moves. Without a branch
		// the current checkout, possibly detached, is reset on purpose.
		if branch != "" {
			if err := engine.GuardInPlaceBranch(ctx, repo, branch, repo.Root()); err != nil {
				return regenExitError(err)
			}
			if err := repo.CheckoutBranch(ctx, branch, baselineOID); err != nil {
				return WrapExitError(ExitCommandError, "could not check out result branch at the baseline", err)
			}
		} else {
			if err := repo.ResetHard(ctx, baselineOID); err != nil {
				return WrapExitError(ExitCommandError, "could not reset worktree to the baseline", err)
			}
		}
		applier = apply.NewGitApplier(repo, cfg)
	} else {
		if branch == "" {
			return NewExitError(ExitCommandError, "a result branch is required: pass --branch or set result-branch in "+configFileName)
		}
		checkoutPath, err = engine.GuardDestination(ctx, repo, branch, opts.Force)
		if err != nil {
			return regenExitError(err)
		}
		wt, err := repo.TemporaryWorktree(ctx, baselineOID)
		if err != nil {
			return WrapExitError(ExitCommandError, "could not create temporary worktree", err)
		}
		defer wt.Remove(ctx)
		applier = apply.NewGitApplier(wt.Repo, cfg)
	}

	series, err := p.Series(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "unusable pile", err)
	}

	progress := progressWriter(f)
	if opts.Quiet {
		progress = io.Discard
	}
	eng := engine.New(repo, applier, cacheIface,
		engine.WithLogger(log), engine.WithProgress(progress))
	res, err := eng.Run(ctx, series, baselineOID, cfg)
	if err != nil {
		return regenExitError(err)
	}

	// Publish the result only after the whole chain built.
	if opts.Inplace {
		if branch != "" {
			err = repo.CheckoutBranch(ctx, branch, res.Tip)
		} else {
			err = repo.ResetHard(ctx, res.Tip)
		}
	} else {
		if err = repo.UpdateRef(ctx, branch, res.Tip); err == nil && checkoutPath != "" {
			err = repo.WorktreeAt(checkoutPath).ResetHard(ctx, res.Tip)
		}
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "could not move result branch", err)
	}

	if opts.Format == "json" {
		return f.Success(genBranchResult{
			Branch:   branch,
			Tip:      string(res.Tip),
			Baseline: string(res.Baseline),
			Total:    res.Total,
			Applied:  res.Applied,
			Reused:   res.Reused,
		})
	}
	msg := res.Summary()
	if branch != "" {
		msg += fmt.Sprintf("\nBranch %q now at %s.", branch, res.Tip.Short())
	} else {
		msg += fmt.Sprintf("\nHEAD now at %s.", res.Tip.Short())
	}
	return f.Success(msg)
}

// openCache resolves the cache location and opens the store, degrading to
// an uncached run on any trouble. A run-level deviation (caching switched
// off, or a one-off store location) forces a fully uncached run and leaves
// the standard store untouched for future default runs. The returned store
// may be nil; Close on a nil store is a no-op.
func openCache(ctx context.Context, repo *gitx.Repo, rc RepoConfig, noCache bool, flagPath string, log *slog.Logger, f *OutputFormatter) (*cache.Store, engine.Cache) {
	if noCache || !rc.CacheEnabled() {
		f.Warnf("caching disabled by request; every patch will be applied")
		return nil, nil
	}
	if flagPath != "" {
		f.Warnf("caching disabled because of option --cache-path; every patch will be applied")
		return nil, nil
	}

	path := rc.CachePath
	if path == "" {
		gitdir, err := repo.GitDir(ctx)
		if err != nil {
			log.Warn("could not locate git directory, proceeding uncached", "error", err)
			return nil, nil
		}
		path = filepath.Join(gitdir, "pilegen-cache.db")
	}

	store := cache.OpenOrRecover(path, log)
	if store == nil {
		return nil, nil
	}
	return store, store
}

// progressWriter routes per-patch progress: on JSON output it moves to the
// diagnostic writer so stdout stays machine-readable.
func progressWriter(f *OutputFormatter) io.Writer {
	if f.Format == "json" {
		return f.GetErrWriter()
	}
	return f.Writer
}
