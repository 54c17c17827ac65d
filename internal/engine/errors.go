package engine

import "fmt"

// ConfigError reports contradictory or missing required options. It is
// always raised before any apply begins.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Msg
}

// InplaceError reports that an in-place run (or a destination branch move)
// would corrupt a live checkout. The engine refuses rather than blocks.
type InplaceError struct {
	Branch string
	Path   string
	Msg    string
}

func (e *InplaceError) Error() string {
	if e.Branch != "" && e.Path != "" {
		return fmt.Sprintf("branch %q is checked out at %q: %s", e.Branch, e.Path, e.Msg)
	}
	return e.Msg
}
