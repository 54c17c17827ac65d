package gitx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOID_Short(t *testing.T) {
	full := OID("0123456789abcdef0123456789abcdef01234567")
	assert.Equal(t, "0123456789ab", full.Short())

	short := OID("abc123")
	assert.Equal(t, "abc123", short.Short())
}

func TestCmdError_Message(t *testing.T) {
	err := &CmdError{
		Args:     []string{"am", "--no-3way"},
		ExitCode: 128,
		Stderr:   "error: patch does not apply\n",
		Err:      errors.New("exit status 128"),
	}
	assert.Contains(t, err.Error(), "git am --no-3way")
	assert.Contains(t, err.Error(), "patch does not apply")
}

func TestCmdError_Unwrap(t *testing.T) {
	inner := errors.New("exit status 1")
	err := fmt.Errorf("context: %w", &CmdError{Args: []string{"show-ref"}, Err: inner})

	var ce *CmdError
	assert.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, inner)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, ExitCode(&CmdError{ExitCode: 1, Err: errors.New("x")}))
	assert.Equal(t, 128, ExitCode(fmt.Errorf("wrap: %w", &CmdError{ExitCode: 128, Err: errors.New("x")})))
	assert.Equal(t, -1, ExitCode(errors.New("not a git error")))
	assert.Equal(t, -1, ExitCode(nil))
}

func TestSplitOIDs(t *testing.T) {
	ids := splitOIDs([]byte("aaa\nbbb\nccc\n"))
	assert.Equal(t, []OID{"aaa", "bbb", "ccc"}, ids)
	assert.Empty(t, splitOIDs([]byte("\n")))
}
