// Package engine drives incremental regeneration: it walks the patch
// series in order, reuses previously produced commits through the cache
// where the exact (parent, fingerprint, signature) combination recurs, and
// applies only the patches that must be rebuilt.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pilegen/pilegen/internal/apply"
	"github.com/pilegen/pilegen/internal/fingerprint"
	"github.com/pilegen/pilegen/internal/gitx"
	"github.com/pilegen/pilegen/internal/pile"
)

// ObjectStore answers whether a commit identity still resolves to a
// retrievable object. Implemented by gitx.Repo.
type ObjectStore interface {
	ObjectExists(ctx context.Context, id gitx.OID) bool
}

// Cache is the persisted (parent, fingerprint, signature) → commit arena.
// Implemented by cache.Store.
type Cache interface {
	Lookup(ctx context.Context, parent, fingerprint, signature string) (commit string, ok bool, err error)
	Record(ctx context.Context, parent, fingerprint, signature, commit string) error
	Forget(ctx context.Context, parent, fingerprint, signature string) error
}

// Engine regenerates the result chain for one series over one baseline.
type Engine struct {
	objects  ObjectStore
	applier  apply.Applier
	cache    Cache // nil disables caching entirely
	log      *slog.Logger
	progress io.Writer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithProgress sets the writer receiving the per-patch "Applying:" lines.
// Defaults to io.Discard (quiet).
func WithProgress(w io.Writer) Option {
	return func(e *Engine) { e.progress = w }
}

// New builds an Engine. Pass cache == nil for a fully uncached run: no
// lookups, no records, no cache file I/O at all.
func New(objects ObjectStore, applier apply.Applier, cache Cache, opts ...Option) *Engine {
	e := &Engine{
		objects:  objects,
		applier:  applier,
		cache:    cache,
		log:      slog.Default(),
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result reports what one regeneration run did.
type Result struct {
	// Tip is the identity of the final commit of the chain. Equals
	// Baseline when the series is empty.
	Tip gitx.OID

	// Baseline is the commit the chain was rooted at.
	Baseline gitx.OID

	// Total, Applied and Reused count the series patches. Applied+Reused
	// equals Total on success.
	Total   int
	Applied int
	Reused  int
}

// Unchanged reports whether the run rebuilt nothing: every patch was
// reused from cache (or the series was empty).
func (r *Result) Unchanged() bool { return r.Applied == 0 }

// Summary renders the user-facing one-line outcome.
func (r *Result) Summary() string {
	if r.Unchanged() {
		return "No changes needed."
	}
	return fmt.Sprintf("Rebuilt %d of %d patches.", r.Applied, r.Total)
}

// Run regenerates the chain for series on top of baseline. Each step is
// decided independently by its own key: a miss at patch k does not force
// misses for k+1..n, and an unaffected tail (same parent content, same
// patch content) hits again after a reorder.
//
// The cache is consulted and updated per step; a failed apply aborts the
// run with the chain built so far confined to the applier's worktree.
func (e *Engine) Run(ctx context.Context, series []pile.Patch, baseline gitx.OID, cfg apply.Config) (*Result, error) {
	if !e.objects.ObjectExists(ctx, baseline) {
		return nil, &ConfigError{
			Msg: fmt.Sprintf("baseline commit %s not found; it may have been pruned and needs to be fetched again", baseline.Short()),
		}
	}

	sig, err := fingerprint.ConfigSignature(cfg)
	if err != nil {
		return nil, err
	}

	cache := e.cache
	if cache != nil {
		if reasons := cfg.NonDefaultReasons(); len(reasons) > 0 {
			e.log.Warn("caching disabled because of non-default apply configuration",
				"reasons", strings.Join(reasons, "; "))
			cache = nil
		}
	}

	res := &Result{Tip: baseline, Baseline: baseline, Total: len(series)}
	current := baseline

	for i, p := range series {
		fp, err := fingerprint.Patch(p)
		if err != nil {
			return nil, err
		}

		if cache != nil {
			if hit, ok := e.lookup(ctx, cache, current, fp, sig); ok {
				current = hit
				res.Reused++
				res.Tip = current
				continue
			}
		}

		fmt.Fprintf(e.progress, "Applying: %s\n", p.Subject())
		newID, err := e.applier.Apply(ctx, current, p)
		if err != nil {
			return nil, fmt.Errorf("series position %d: %w", i+1, err)
		}

		if cache != nil {
			if err := cache.Record(ctx, string(current), string(fp), string(sig), string(newID)); err != nil {
				// cache-layer errors never abort a run
				e.log.Warn("failed to record cache entry", "patch", p.Name, "error", err)
			}
		}

		current = newID
		res.Applied++
		res.Tip = current
	}

	return res, nil
}

// lookup consults the cache and verifies the hit still resolves in the
// object store. A stale pointer is treated identically to a miss and the
// entry is dropped so the next successful write replaces it.
func (e *Engine) lookup(ctx context.Context, cache Cache, parent gitx.OID, fp, sig fingerprint.Value) (gitx.OID, bool) {
	commit, ok, err := cache.Lookup(ctx, string(parent), string(fp), string(sig))
	if err != nil {
		e.log.Warn("cache lookup failed, treating as miss", "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	if !e.objects.ObjectExists(ctx, gitx.OID(commit)) {
		e.log.Warn("cached commit no longer exists, rebuilding step",
			"commit", gitx.OID(commit).Short())
		if err := cache.Forget(ctx, string(parent), string(fp), string(sig)); err != nil {
			e.log.Warn("failed to drop stale cache entry", "error", err)
		}
		return "", false
	}
	return gitx.OID(commit), true
}
