// Package pile reads the patch-series store: an ordered series file, a
// KEY=VALUE config carrying the baseline, and the patch files themselves.
// The pile is read-only to the regeneration engine; it can be backed by a
// checkout directory or by a git revision of the pile branch.
package pile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pilegen/pilegen/internal/gitx"
)

// Pile represents one revision (or checkout) of the patch-series store.
type Pile struct {
	reader           fileReader
	loc              string
	config           map[string]string
	baselineOverride string
}

// Error reports a structural problem with the pile contents.
type Error struct {
	Loc string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Loc, e.Msg) }

// Open builds a Pile backed by a directory in the file system. The
// directory does not need to be tracked by git but must have the pile
// branch structure.
func Open(path string) *Pile {
	return &Pile{
		reader: &dirReader{path: path},
		loc:    fmt.Sprintf("pile directory %q", path),
	}
}

// AtRevision builds a Pile backed by a git tree-ish, typically a commit on
// the pile branch. Revisions are immutable, so tree listings are cached.
func AtRevision(repo *gitx.Repo, rev gitx.OID) *Pile {
	return &Pile{
		reader: &revReader{repo: repo, rev: rev},
		loc:    fmt.Sprintf("pile revision %s", rev.Short()),
	}
}

// OverrideBaseline makes Baseline return the given value regardless of the
// pile config.
func (p *Pile) OverrideBaseline(baseline string) {
	p.baselineOverride = baseline
}

// Baseline returns the baseline commit identity the series is defined
// against, or "" when the config does not carry one.
func (p *Pile) Baseline(ctx context.Context) (string, error) {
	if p.baselineOverride != "" {
		return p.baselineOverride, nil
	}
	cfg, err := p.readConfig(ctx)
	if err != nil {
		return "", err
	}
	return cfg["BASELINE"], nil
}

// Validate checks the structural invariants of the pile: the series and
// config files must exist and every tree entry must be a regular file.
// Stray non-patch files are reported via the returned warnings rather than
// failing the run; directories and hidden files are allowed for
// project-specific use.
func (p *Pile) Validate(ctx context.Context) (warnings []string, err error) {
	missing := map[string]bool{"series": true, "config": true}
	strays := false

	entries, err := p.reader.ls(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.isDir || strings.HasPrefix(e.name, ".") {
			continue
		}
		switch {
		case missing[e.name]:
			delete(missing, e.name)
		case !strings.HasSuffix(e.name, ".patch"):
			strays = true
		}
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, &Error{Loc: p.loc, Msg: "missing files: " + strings.Join(names, ",")}
	}
	if strays {
		warnings = append(warnings, fmt.Sprintf("non-patch files found in %s", p.loc))
	}
	return warnings, nil
}

// Series returns the ordered patches of the pile. Blank lines and lines
// starting with '#' in the series file are skipped. Order is application
// order and is significant.
func (p *Pile) Series(ctx context.Context) ([]Patch, error) {
	text, err := p.reader.text(ctx, "series")
	if err != nil {
		return nil, err
	}

	var patches []Patch
	for i, line := range strings.Split(text, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		data, err := p.reader.bytes(ctx, name)
		if err != nil {
			return nil, &Error{Loc: p.loc, Msg: fmt.Sprintf("series line %d: %v", i+1, err)}
		}
		patch, err := parsePatch(name, data)
		if err != nil {
			return nil, &Error{Loc: p.loc, Msg: fmt.Sprintf("patch %s: %v", name, err)}
		}
		patches = append(patches, patch)
	}
	return patches, nil
}

func (p *Pile) readConfig(ctx context.Context) (map[string]string, error) {
	if p.config != nil {
		return p.config, nil
	}

	text, err := p.reader.text(ctx, "config")
	if err != nil {
		return nil, err
	}

	cfg := map[string]string{}
	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, val, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if !found || key == "" || val == "" {
			return nil, &Error{
				Loc: p.loc,
				Msg: fmt.Sprintf("invalid config at line %d: expecting <KEY>=<VALUE>", i+1),
			}
		}
		cfg[key] = val
	}
	p.config = cfg
	return cfg, nil
}
