// Package apply turns one patch plus one parent commit into a new commit.
// It owns the applier configuration: the set of options that change the
// bytes of the commits it produces.
package apply

import "fmt"

// Config is the effective applier configuration for one run. Every field
// that alters output bytes participates in the cache signature; see
// fingerprint.ConfigSignature.
type Config struct {
	// CommitterName and CommitterEmail override the committer identity
	// git would otherwise pick up from its own configuration.
	CommitterName  string
	CommitterEmail string

	// FixWhitespace applies whitespace fixes while applying, changing the
	// produced blobs.
	FixWhitespace bool
}

// NonDefaultReasons lists the options that deviate from the default apply
// behavior. Any deviation disables cache use for the run: commits produced
// under a non-default configuration must never be confused with the
// default-configuration entries already stored.
func (c Config) NonDefaultReasons() []string {
	var reasons []string
	if c.CommitterName != "" {
		reasons = append(reasons, "committer name override")
	}
	if c.CommitterEmail != "" {
		reasons = append(reasons, "committer email override")
	}
	if c.FixWhitespace {
		reasons = append(reasons, "using option --fix-whitespace")
	}
	return reasons
}

// Env returns the GIT_COMMITTER_* environment overrides for this config.
func (c Config) Env() []string {
	var env []string
	if c.CommitterName != "" {
		env = append(env, fmt.Sprintf("GIT_COMMITTER_NAME=%s", c.CommitterName))
	}
	if c.CommitterEmail != "" {
		env = append(env, fmt.Sprintf("GIT_COMMITTER_EMAIL=%s", c.CommitterEmail))
	}
	return env
}
