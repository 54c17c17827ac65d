package apply

import (
	"errors"
	"fmt"
)

// Error represents a failure to apply a patch. It carries a machine
// readable code plus the identity of the offending patch so the
// orchestrator can report which step of the series broke.
type Error struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Patch is the series file name of the patch that failed.
	Patch string

	// Parent is the commit the patch was being applied onto.
	Parent string

	// Detail is the trimmed stderr from the apply primitive.
	Detail string
}

// ErrorCode categorizes apply failures.
type ErrorCode string

const (
	// ErrCodeConflict indicates the diff does not apply cleanly against
	// the parent's tree.
	ErrCodeConflict ErrorCode = "APPLY_CONFLICT"

	// ErrCodeAmbiguousContext indicates the diff context could not be
	// matched against the parent's tree.
	ErrCodeAmbiguousContext ErrorCode = "MERGE_AMBIGUITY"

	// ErrCodeMissingAuthor indicates the patch carries no author identity
	// and no default is configured.
	ErrCodeMissingAuthor ErrorCode = "AUTHOR_METADATA_MISSING"
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: patch %q", e.Code, e.Patch)
	if e.Parent != "" {
		msg += fmt.Sprintf(" on %s", e.Parent)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// IsConflict reports whether err is an apply conflict. Uses errors.As to
// handle wrapped errors.
func IsConflict(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == ErrCodeConflict
}

// IsMissingAuthor reports whether err is a missing author identity error.
func IsMissingAuthor(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == ErrCodeMissingAuthor
}
