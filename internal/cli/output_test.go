package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilegen/pilegen/internal/apply"
	"github.com/pilegen/pilegen/internal/engine"
	"github.com/pilegen/pilegen/internal/pile"
)

func init() {
	// escape sequences would make the warning assertions terminal-dependent
	color.NoColor = true
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(WrapExitError(ExitFailure, "failed", errors.New("cause"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "inner"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestExitError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := WrapExitError(ExitFailure, "failed", cause)
	assert.Equal(t, "failed: cause", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "bare", NewExitError(ExitCommandError, "bare").Error())
}

func TestRegenExitError_Taxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"apply conflict", fmt.Errorf("series position 2: %w", &apply.Error{Code: apply.ErrCodeConflict, Patch: "p"}), ExitFailure},
		{"missing author", &apply.Error{Code: apply.ErrCodeMissingAuthor, Patch: "p"}, ExitFailure},
		{"bad configuration", &engine.ConfigError{Msg: "no baseline"}, ExitCommandError},
		{"inplace refusal", &engine.InplaceError{Msg: "busy"}, ExitCommandError},
		{"broken pile", &pile.Error{Loc: "pile", Msg: "missing files"}, ExitCommandError},
		{"anything else", errors.New("io trouble"), ExitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := regenExitError(tc.err)
			assert.Equal(t, tc.code, GetExitCode(err))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Success("Rebuilt 2 of 3 patches."))
	assert.Equal(t, "Rebuilt 2 of 3 patches.\n", buf.String())
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Success(genBranchResult{
		Branch:   "internal",
		Tip:      "abc",
		Baseline: "base",
		Total:    3,
		Applied:  1,
		Reused:   2,
	}))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "genbranch_success", buf.Bytes())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Error("APPLY_CONFLICT", "patch application failed", nil))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "genbranch_error", buf.Bytes())
}

func TestOutputFormatter_TextError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf, Verbose: true}
	require.NoError(t, f.Error("MERGE_AMBIGUITY", "context not found", "at series position 2"))
	assert.Contains(t, buf.String(), "Error [MERGE_AMBIGUITY]: context not found")
	assert.Contains(t, buf.String(), "at series position 2")
}

func TestOutputFormatter_WarnfGoesToErrWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut}
	f.Warnf("non-patch files found in %s", "pile")

	assert.Empty(t, out.String(), "warnings must not corrupt JSON output")
	assert.Contains(t, errOut.String(), "warning: non-patch files found in pile")
}

func TestProgressWriter_RoutesByFormat(t *testing.T) {
	var out, errOut bytes.Buffer

	text := &OutputFormatter{Format: "text", Writer: &out, ErrWriter: &errOut}
	assert.Equal(t, &out, progressWriter(text))

	jsonF := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut}
	assert.Equal(t, &errOut, progressWriter(jsonF))
}
