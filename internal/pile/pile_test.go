package pile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePile(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

const minimalPatch = "From: Jo <jo@example.com>\nDate: Tue, 5 Mar 2024 10:00:00 +0100\nSubject: [PATCH] one\n\ndiff --git a/f b/f\n+x\n"

func TestPile_Validate(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series":       "0001-one.patch\n",
		"config":       "BASELINE=abc123\n",
		"0001-one.patch": minimalPatch,
	})
	p := Open(dir)

	warnings, err := p.Validate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestPile_Validate_MissingFiles(t *testing.T) {
	dir := writePile(t, map[string]string{"series": ""})
	p := Open(dir)

	_, err := p.Validate(context.Background())
	require.Error(t, err)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Msg, "missing files: config")
}

func TestPile_Validate_StrayFilesWarn(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series":    "",
		"config":    "BASELINE=abc\n",
		"notes.txt": "scratch",
		".hidden":   "ignored",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	p := Open(dir)

	warnings, err := p.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, warnings, 1, "stray file should warn, hidden files and dirs should not")
	assert.Contains(t, warnings[0], "non-patch files")
}

func TestPile_Baseline(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series": "",
		"config": "BASELINE=abc123\nOTHER=zzz\n",
	})
	p := Open(dir)

	baseline, err := p.Baseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", baseline)
}

func TestPile_Baseline_Override(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series": "",
		"config": "BASELINE=abc123\n",
	})
	p := Open(dir)
	p.OverrideBaseline("def456")

	baseline, err := p.Baseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "def456", baseline)
}

func TestPile_Baseline_AbsentKey(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series": "",
		"config": "OTHER=zzz\n",
	})
	p := Open(dir)

	baseline, err := p.Baseline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, baseline)
}

func TestPile_Config_Malformed(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series": "",
		"config": "BASELINE=abc\nnot a pair\n",
	})
	p := Open(dir)

	_, err := p.Baseline(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "<KEY>=<VALUE>")
}

func TestPile_Series_OrderAndSkipping(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series": "# comment\n0002-two.patch\n\n0001-one.patch\n",
		"config": "BASELINE=abc\n",
		"0001-one.patch": minimalPatch,
		"0002-two.patch": minimalPatch,
	})
	p := Open(dir)

	series, err := p.Series(context.Background())
	require.NoError(t, err)
	require.Len(t, series, 2)

	// series order is application order, not lexical order
	assert.Equal(t, "0002-two.patch", series[0].Name)
	assert.Equal(t, "0001-one.patch", series[1].Name)
}

func TestPile_Series_MissingPatchFile(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series": "0001-one.patch\nmissing.patch\n",
		"config": "BASELINE=abc\n",
		"0001-one.patch": minimalPatch,
	})
	p := Open(dir)

	_, err := p.Series(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "series line 2")
}

func TestPile_Series_Empty(t *testing.T) {
	dir := writePile(t, map[string]string{
		"series": "\n# nothing yet\n",
		"config": "BASELINE=abc\n",
	})
	p := Open(dir)

	series, err := p.Series(context.Background())
	require.NoError(t, err)
	assert.Empty(t, series)
}
