package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configFileName is looked up at the repository root. The file is
// optional; every key has a working default.
const configFileName = ".pilegen.yaml"

// RepoConfig is the per-repository configuration. Command-line flags
// override it; it overrides the built-in defaults.
type RepoConfig struct {
	// PileBranch names the branch carrying the patch pile history.
	PileBranch string `yaml:"pile-branch"`

	// PileDir is the checkout of the pile, relative to the repository
	// root unless absolute.
	PileDir string `yaml:"pile-dir"`

	// ResultBranch receives the regenerated chain (genbranch).
	ResultBranch string `yaml:"result-branch"`

	// LinearBranch receives the one-commit-per-pile-revision history
	// (genlinear-branch).
	LinearBranch string `yaml:"linear-branch"`

	// Baseline overrides the baseline recorded in the pile config.
	Baseline string `yaml:"baseline"`

	// CachePath relocates the cache database. Empty means the default
	// location inside the git directory.
	CachePath string `yaml:"cache-path"`

	// UseCache toggles the commit cache. Unset means enabled.
	UseCache *bool `yaml:"use-cache"`

	// CommitterName and CommitterEmail override the committer identity.
	// Setting either disables cache use for the run.
	CommitterName  string `yaml:"committer-name"`
	CommitterEmail string `yaml:"committer-email"`

	// FixWhitespace applies whitespace fixes while applying patches.
	// Enabling it disables cache use for the run.
	FixWhitespace bool `yaml:"fix-whitespace"`
}

// LoadRepoConfig reads .pilegen.yaml from the repository root. A missing
// file yields the defaults; a malformed file is an error.
func LoadRepoConfig(root string) (RepoConfig, error) {
	cfg := RepoConfig{
		PileBranch: "pile",
		PileDir:    "patches",
	}

	data, err := os.ReadFile(filepath.Join(root, configFileName))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", configFileName, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", configFileName, err)
	}
	if cfg.PileBranch == "" {
		cfg.PileBranch = "pile"
	}
	if cfg.PileDir == "" {
		cfg.PileDir = "patches"
	}
	return cfg, nil
}

// CacheEnabled reports whether the config leaves the cache on.
func (c RepoConfig) CacheEnabled() bool {
	return c.UseCache == nil || *c.UseCache
}

// firstNonEmpty returns the first non-empty string, for flag-over-config
// precedence.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
