// Package gitx wraps the git plumbing commands the regeneration engine
// needs. All interaction with the object store goes through a Runner so
// higher layers can be tested without a git binary.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	osexec "os/exec"
	"strings"
)

// OID is a git object identity (commit, tree or blob hash).
type OID string

func (o OID) String() string { return string(o) }

// Short returns the abbreviated form used in log output.
func (o OID) Short() string {
	if len(o) > 12 {
		return string(o[:12])
	}
	return string(o)
}

// Runner executes git commands. Inject this instead of calling exec.Command
// directly.
type Runner interface {
	// Git runs git with the given arguments in dir and returns stdout.
	// Stderr is captured and attached to the returned error on failure.
	Git(ctx context.Context, dir string, args ...string) ([]byte, error)

	// GitInput runs git with stdin fed from input.
	GitInput(ctx context.Context, dir string, input io.Reader, args ...string) ([]byte, error)
}

// CmdError is returned when git exits non-zero. It keeps stderr and the
// exit code so callers can distinguish expected failures (missing object,
// apply conflict) from operational ones.
type CmdError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CmdError) Error() string {
	msg := "git " + strings.Join(e.Args, " ") + ": " + e.Err.Error()
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CmdError) Unwrap() error { return e.Err }

// ExitCode extracts the git exit code from an error, or -1 if the error
// did not come from a git invocation.
func ExitCode(err error) int {
	var ce *CmdError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

// OSRunner implements Runner using os/exec.
type OSRunner struct {
	// Env holds extra environment variables appended to the inherited
	// environment (e.g. GIT_COMMITTER_NAME overrides).
	Env []string
}

// NewRunner creates an OS-based git runner with optional extra environment.
func NewRunner(env ...string) *OSRunner {
	return &OSRunner{Env: env}
}

func (r *OSRunner) Git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return r.run(ctx, dir, nil, args)
}

func (r *OSRunner) GitInput(ctx context.Context, dir string, input io.Reader, args ...string) ([]byte, error) {
	return r.run(ctx, dir, input, args)
}

func (r *OSRunner) run(ctx context.Context, dir string, input io.Reader, args []string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	if input != nil {
		cmd.Stdin = input
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var xe *osexec.ExitError
		if errors.As(err, &xe) {
			code = xe.ExitCode()
		}
		return stdout.Bytes(), &CmdError{
			Args:     args,
			ExitCode: code,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}
