package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilegen/pilegen/internal/apply"
	"github.com/pilegen/pilegen/internal/gitx"
	"github.com/pilegen/pilegen/internal/pile"
	"github.com/pilegen/pilegen/internal/testutil"
)

const baseline = gitx.OID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func patch(name, message, diff string) pile.Patch {
	return pile.Patch{
		Name:        name,
		AuthorName:  "Jo Developer",
		AuthorEmail: "jo@example.com",
		AuthorDate:  "Tue, 5 Mar 2024 10:00:00 +0100",
		Message:     message,
		Diff:        []byte(diff),
	}
}

func threePatches() []pile.Patch {
	return []pile.Patch{
		patch("0001-a.patch", "a: first", "diff --git a/a b/a\n+a\n"),
		patch("0002-b.patch", "b: second", "diff --git a/b b/b\n+b\n"),
		patch("0003-c.patch", "c: third", "diff --git a/c b/c\n+c\n"),
	}
}

type fixture struct {
	objects *testutil.FakeObjects
	applier *testutil.FakeApplier
	cache   *testutil.MemCache
	engine  *Engine
}

func newFixture() *fixture {
	objects := testutil.NewFakeObjects(baseline)
	applier := testutil.NewFakeApplier(objects)
	cache := testutil.NewMemCache()
	return &fixture{
		objects: objects,
		applier: applier,
		cache:   cache,
		engine:  New(objects, applier, cache, quiet()),
	}
}

func TestRun_ColdCacheAppliesEverything(t *testing.T) {
	f := newFixture()
	res, err := f.engine.Run(context.Background(), threePatches(), baseline, apply.Config{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Applied)
	assert.Zero(t, res.Reused)
	assert.False(t, res.Unchanged())
	assert.Equal(t, "Rebuilt 3 of 3 patches.", res.Summary())
	assert.Equal(t, []string{"0001-a.patch", "0002-b.patch", "0003-c.patch"}, f.applier.Applied)
	assert.Equal(t, 3, f.cache.Len())
	assert.NotEqual(t, baseline, res.Tip)
}

func TestRun_RerunReusesEverything(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.engine.Run(ctx, threePatches(), baseline, apply.Config{})
	require.NoError(t, err)

	f.applier.Applied = nil
	second, err := f.engine.Run(ctx, threePatches(), baseline, apply.Config{})
	require.NoError(t, err)

	assert.Empty(t, f.applier.Applied, "nothing may be reapplied on an unchanged rerun")
	assert.Equal(t, 3, second.Reused)
	assert.True(t, second.Unchanged())
	assert.Equal(t, "No changes needed.", second.Summary())
	assert.Equal(t, first.Tip, second.Tip, "reruns must reproduce the identical chain")
}

func TestRun_Deterministic(t *testing.T) {
	a := newFixture()
	b := newFixture()
	ctx := context.Background()

	ra, err := a.engine.Run(ctx, threePatches(), baseline, apply.Config{})
	require.NoError(t, err)
	rb, err := b.engine.Run(ctx, threePatches(), baseline, apply.Config{})
	require.NoError(t, err)

	assert.Equal(t, ra.Tip, rb.Tip, "same inputs must yield byte-identical chains")
}

func TestRun_ReorderRebuildsOnlyAffectedSteps(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	series := threePatches()

	_, err := f.engine.Run(ctx, series, baseline, apply.Config{})
	require.NoError(t, err)

	// swap the last two patches: the first step still hits, the swapped
	// tail rebuilds because each parent changed
	swapped := []pile.Patch{series[0], series[2], series[1]}
	f.applier.Applied = nil
	res, err := f.engine.Run(ctx, swapped, baseline, apply.Config{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Reused)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, []string{"0003-c.patch", "0002-b.patch"}, f.applier.Applied)

	// rerunning the swapped order is then fully cached
	f.applier.Applied = nil
	res, err = f.engine.Run(ctx, swapped, baseline, apply.Config{})
	require.NoError(t, err)
	assert.True(t, res.Unchanged())
	assert.Empty(t, f.applier.Applied)
}

func TestRun_ModifiedPatchInvalidatesItsTail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	series := threePatches()

	_, err := f.engine.Run(ctx, series, baseline, apply.Config{})
	require.NoError(t, err)

	series[1].Diff = []byte("diff --git a/b b/b\n+b2\n")
	f.applier.Applied = nil
	res, err := f.engine.Run(ctx, series, baseline, apply.Config{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Reused, "the untouched head still hits")
	assert.Equal(t, []string{"0002-b.patch", "0003-c.patch"}, f.applier.Applied,
		"the modified patch and everything after it rebuild")
}

func TestRun_PrunedCachedCommitIsAMissNotAnError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	series := threePatches()

	first, err := f.engine.Run(ctx, series, baseline, apply.Config{})
	require.NoError(t, err)

	// garbage-collect the final commit behind the cache's back
	f.objects.Prune(first.Tip)

	f.applier.Applied = nil
	res, err := f.engine.Run(ctx, series, baseline, apply.Config{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Reused)
	assert.Equal(t, []string{"0003-c.patch"}, f.applier.Applied,
		"only the pruned step rebuilds")
	assert.Equal(t, first.Tip, res.Tip, "rebuilding reproduces the identical commit")

	// the repaired entry serves the next run again
	f.applier.Applied = nil
	res, err = f.engine.Run(ctx, series, baseline, apply.Config{})
	require.NoError(t, err)
	assert.True(t, res.Unchanged())
}

func TestRun_MissingBaseline(t *testing.T) {
	f := newFixture()
	_, err := f.engine.Run(context.Background(), threePatches(),
		"ffffffffffffffffffffffffffffffffffffffff", apply.Config{})
	require.Error(t, err)

	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Error(), "invalid configuration")
	assert.Contains(t, cerr.Error(), "pruned")
	assert.Empty(t, f.applier.Applied, "nothing may be applied after a failed pre-flight")
}

func TestRun_EmptySeries(t *testing.T) {
	f := newFixture()
	res, err := f.engine.Run(context.Background(), nil, baseline, apply.Config{})
	require.NoError(t, err)

	assert.Equal(t, baseline, res.Tip)
	assert.Zero(t, res.Total)
	assert.True(t, res.Unchanged())
	assert.Equal(t, "No changes needed.", res.Summary())
}

func TestRun_NonDefaultConfigBypassesCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.engine.Run(ctx, threePatches(), baseline, apply.Config{FixWhitespace: true})
	require.NoError(t, err)
	assert.Zero(t, f.cache.Lookups, "a non-default run must not consult the cache")
	assert.Zero(t, f.cache.Records, "a non-default run must not pollute the cache")

	// a later default run sees a cold cache and applies everything
	f.applier.Applied = nil
	res, err := f.engine.Run(ctx, threePatches(), baseline, apply.Config{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
}

func TestRun_NilCacheDisablesCaching(t *testing.T) {
	objects := testutil.NewFakeObjects(baseline)
	applier := testutil.NewFakeApplier(objects)
	eng := New(objects, applier, nil, quiet())
	ctx := context.Background()

	res, err := eng.Run(ctx, threePatches(), baseline, apply.Config{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)

	res, err = eng.Run(ctx, threePatches(), baseline, apply.Config{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied, "without a cache every run applies everything")
}

func TestRun_ApplyFailureAbortsWithPosition(t *testing.T) {
	f := newFixture()
	f.applier.FailOn["0002-b.patch"] = &apply.Error{
		Code:  apply.ErrCodeConflict,
		Patch: "0002-b.patch",
	}

	_, err := f.engine.Run(context.Background(), threePatches(), baseline, apply.Config{})
	require.Error(t, err)
	assert.True(t, apply.IsConflict(err))
	assert.Contains(t, err.Error(), "series position 2")
	assert.Equal(t, []string{"0001-a.patch"}, f.applier.Applied,
		"the run stops at the failing step")
}

func TestRun_ProgressNamesEachAppliedPatch(t *testing.T) {
	f := newFixture()
	var buf recordingWriter
	eng := New(f.objects, f.applier, f.cache, quiet(), WithProgress(&buf))

	_, err := eng.Run(context.Background(), threePatches(), baseline, apply.Config{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Applying: a: first")
	assert.Contains(t, buf.String(), "Applying: c: third")

	// cache hits are silent
	buf.reset()
	_, err = eng.Run(context.Background(), threePatches(), baseline, apply.Config{})
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

type recordingWriter struct {
	data []byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *recordingWriter) String() string { return string(w.data) }
func (w *recordingWriter) reset()         { w.data = nil }
