package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addAPatch creates a.txt; applies cleanly on any tree without one.
const addAPatch = `From 1111111111111111111111111111111111111111 Mon Sep 17 00:00:00 2001
From: Patch Author <author@example.com>
Date: Mon, 1 Jan 2024 00:00:00 +0000
Subject: [PATCH] Add a

---
 a.txt | 1 +
 1 file changed, 1 insertion(+)

diff --git a/a.txt b/a.txt
new file mode 100644
index 0000000..7898192
--- /dev/null
+++ b/a.txt
@@ -0,0 +1 @@
+a
`

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "GIT_CONFIG_GLOBAL=/dev/null")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// initWorkRepo builds a repository with a single baseline commit on main
// and a pile checkout under patches/ pointing at that baseline.
func initWorkRepo(t *testing.T) (dir string, baseline string) {
	t.Helper()
	dir = t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "user.email", "test@example.com")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.txt"), []byte("base\n"), 0o644))
	runGit(t, dir, "add", "base.txt")
	runGit(t, dir, "commit", "-m", "baseline")
	baseline = runGit(t, dir, "rev-parse", "HEAD")

	pdir := filepath.Join(dir, "patches")
	require.NoError(t, os.MkdirAll(pdir, 0o755))
	for name, content := range map[string]string{
		"series":           "0001-add-a.patch\n",
		"config":           "BASELINE=" + baseline + "\n",
		"0001-add-a.patch": addAPatch,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(pdir, name), []byte(content), 0o644))
	}
	return dir, baseline
}

// An in-place run with a destination branch must park the worktree on
// that branch at the baseline before applying anything. The branch the
// user had checked out keeps its own commits.
func TestGenBranch_InplaceKeepsCurrentBranch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir, baseline := initWorkRepo(t)

	// a commit of the user's own, past the baseline
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.txt"), []byte("mine\n"), 0o644))
	runGit(t, dir, "add", "user.txt")
	runGit(t, dir, "commit", "-m", "user work")
	mainBefore := runGit(t, dir, "rev-parse", "refs/heads/main")

	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"genbranch", "--inplace", "--branch", "internal", "--quiet"})
	require.NoError(t, cmd.Execute(), "stderr: %s", errOut.String())

	assert.Equal(t, mainBefore, runGit(t, dir, "rev-parse", "refs/heads/main"),
		"the branch the user had checked out must not move")

	tip := runGit(t, dir, "rev-parse", "refs/heads/internal")
	assert.Equal(t, baseline, runGit(t, dir, "rev-parse", tip+"~1"),
		"result chain is rooted at the baseline, not at the user's commits")
	assert.Equal(t, "Add a", runGit(t, dir, "log", "-1", "--format=%s", tip))
	assert.Equal(t, "internal", runGit(t, dir, "rev-parse", "--abbrev-ref", "HEAD"))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boolPtr(b bool) *bool { return &b }

func TestOpenCache_NoCacheFlag(t *testing.T) {
	var errOut bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: io.Discard, ErrWriter: &errOut}

	store, c := openCache(context.Background(), nil, RepoConfig{}, true, "", discardLogger(), f)
	assert.Nil(t, store)
	assert.Nil(t, c)
	assert.Contains(t, errOut.String(), "caching disabled")
}

func TestOpenCache_UseCacheFalse(t *testing.T) {
	var errOut bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: io.Discard, ErrWriter: &errOut}
	rc := RepoConfig{UseCache: boolPtr(false)}

	store, c := openCache(context.Background(), nil, rc, false, "", discardLogger(), f)
	assert.Nil(t, store)
	assert.Nil(t, c)
	assert.Contains(t, errOut.String(), "caching disabled")
}

func TestOpenCache_FlagPathForcesUncachedRun(t *testing.T) {
	var errOut bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: io.Discard, ErrWriter: &errOut}
	flagPath := filepath.Join(t.TempDir(), "elsewhere.db")

	store, c := openCache(context.Background(), nil, RepoConfig{}, false, flagPath, discardLogger(), f)
	assert.Nil(t, store)
	assert.Nil(t, c)
	assert.Contains(t, errOut.String(), "--cache-path")

	_, err := os.Stat(flagPath)
	assert.True(t, os.IsNotExist(err), "a one-off location must see no store I/O at all")
}

func TestOpenCache_ConfiguredPathIsStandardLocation(t *testing.T) {
	var errOut bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: io.Discard, ErrWriter: &errOut}
	path := filepath.Join(t.TempDir(), "cache.db")

	store, c := openCache(context.Background(), nil, RepoConfig{CachePath: path}, false, "", discardLogger(), f)
	require.NotNil(t, store)
	assert.NotNil(t, c)
	defer store.Close()

	_, err := os.Stat(path)
	assert.NoError(t, err, "the repo-configured path is the standard store, opened normally")
	assert.Empty(t, errOut.String())
}
