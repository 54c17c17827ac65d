package pile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pilegen/pilegen/internal/gitx"
)

// fileReader abstracts where pile contents come from: a checkout directory
// or a git tree-ish.
type fileReader interface {
	ls(ctx context.Context) ([]treeEntry, error)
	text(ctx context.Context, name string) (string, error)
	bytes(ctx context.Context, name string) ([]byte, error)
}

type treeEntry struct {
	name  string
	isDir bool
}

type dirReader struct {
	path string
}

func (r *dirReader) ls(ctx context.Context) ([]treeEntry, error) {
	dirents, err := os.ReadDir(r.path)
	if err != nil {
		return nil, err
	}
	entries := make([]treeEntry, 0, len(dirents))
	for _, d := range dirents {
		entries = append(entries, treeEntry{name: d.Name(), isDir: d.IsDir()})
	}
	return entries, nil
}

func (r *dirReader) text(ctx context.Context, name string) (string, error) {
	b, err := r.bytes(ctx, name)
	return string(b), err
}

func (r *dirReader) bytes(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(r.path, name))
}

// revReader reads pile contents out of a git tree-ish. The full ls-tree
// listing is cached: revisions are immutable and a pile can hold thousands
// of patches.
type revReader struct {
	repo    *gitx.Repo
	rev     gitx.OID
	entries []treeEntry
	known   map[string]bool
}

func (r *revReader) ls(ctx context.Context) ([]treeEntry, error) {
	if r.entries != nil {
		return r.entries, nil
	}
	out, err := r.repo.Runner().Git(ctx, r.repo.Root(),
		"ls-tree", "-z", "--full-tree", string(r.rev))
	if err != nil {
		return nil, err
	}

	r.known = map[string]bool{}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\x00"), "\x00") {
		if line == "" {
			continue
		}
		// "<mode> <type> <oid>\t<name>"
		meta, name, found := strings.Cut(line, "\t")
		if !found {
			return nil, fmt.Errorf("unexpected ls-tree entry %q", line)
		}
		fields := strings.Fields(meta)
		if len(fields) < 3 {
			return nil, fmt.Errorf("unexpected ls-tree entry %q", line)
		}
		r.entries = append(r.entries, treeEntry{name: name, isDir: fields[1] == "tree"})
		r.known[name] = true
	}
	return r.entries, nil
}

func (r *revReader) text(ctx context.Context, name string) (string, error) {
	b, err := r.bytes(ctx, name)
	return string(b), err
}

func (r *revReader) bytes(ctx context.Context, name string) ([]byte, error) {
	// `git show rev:path` does not distinguish "no such path" clearly, so
	// consult the cached listing first.
	if _, err := r.ls(ctx); err != nil {
		return nil, err
	}
	if !r.known[name] {
		return nil, fmt.Errorf("path %q not found under revision %s", name, r.rev.Short())
	}
	return r.repo.Runner().Git(ctx, r.repo.Root(),
		"show", string(r.rev)+":"+name)
}
