package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pilegen/pilegen/internal/gitx"
)

// FakeHistory is an in-memory linear.History: a pile branch with a fixed
// revision list, a writable commit store, notes and branch refs.
type FakeHistory struct {
	// PileBranch names the fake pile branch.
	PileBranch string

	// PileRevs holds the pile revisions, oldest first.
	PileRevs []gitx.OID

	commits map[gitx.OID][]byte
	notes   map[string]map[gitx.OID]string
	refs    map[string][]gitx.OID // branch -> chain, oldest first
}

// NewFakeHistory builds a history whose pile branch carries the given
// revisions (oldest first). A synthetic raw commit object is stored for
// each revision.
func NewFakeHistory(pileBranch string, revs ...gitx.OID) *FakeHistory {
	h := &FakeHistory{
		PileBranch: pileBranch,
		PileRevs:   revs,
		commits:    map[gitx.OID][]byte{},
		notes:      map[string]map[gitx.OID]string{},
		refs:       map[string][]gitx.OID{},
	}
	for i, rev := range revs {
		h.commits[rev] = []byte(fmt.Sprintf(
			"tree %040d\nauthor A U Thor <author@example.com> 1700000%03d +0000\ncommitter A U Thor <author@example.com> 1700000%03d +0000\n\npile revision %d\n",
			i, i, i, i+1))
	}
	return h
}

// SetCommit overrides the raw commit object stored for rev.
func (h *FakeHistory) SetCommit(rev gitx.OID, raw []byte) {
	h.commits[rev] = raw
}

// Chain returns the commits currently on branch, oldest first.
func (h *FakeHistory) Chain(branch string) []gitx.OID {
	return h.refs[branch]
}

// Notes returns the note attached to rev under ref, or "".
func (h *FakeHistory) Notes(ref string, rev gitx.OID) string {
	return h.notes[ref][rev]
}

func (h *FakeHistory) RevListReverse(ctx context.Context, spec string) ([]gitx.OID, error) {
	if spec == h.PileBranch {
		return append([]gitx.OID(nil), h.PileRevs...), nil
	}
	after, branch, found := strings.Cut(spec, "..")
	if !found || branch != h.PileBranch {
		return nil, fmt.Errorf("unknown revision spec %q", spec)
	}
	for i, rev := range h.PileRevs {
		if rev == gitx.OID(after) {
			return append([]gitx.OID(nil), h.PileRevs[i+1:]...), nil
		}
	}
	return nil, fmt.Errorf("revision %q not found", after)
}

func (h *FakeHistory) RevList(ctx context.Context, spec string) ([]gitx.OID, error) {
	chain, ok := h.refs[spec]
	if !ok {
		return nil, fmt.Errorf("unknown ref %q", spec)
	}
	out := make([]gitx.OID, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i])
	}
	return out, nil
}

func (h *FakeHistory) RefExists(ctx context.Context, ref string) bool {
	if name, ok := strings.CutPrefix(ref, "refs/notes/"); ok {
		return len(h.notes[name]) > 0
	}
	return false
}

func (h *FakeHistory) Note(ctx context.Context, ref string, rev gitx.OID) (string, error) {
	return h.notes[ref][rev], nil
}

func (h *FakeHistory) AddNote(ctx context.Context, ref string, rev gitx.OID, message string) error {
	if h.notes[ref] == nil {
		h.notes[ref] = map[gitx.OID]string{}
	}
	h.notes[ref][rev] = message
	return nil
}

func (h *FakeHistory) TreeOf(ctx context.Context, commit gitx.OID) (gitx.OID, error) {
	raw, ok := h.commits[commit]
	if !ok {
		return "", fmt.Errorf("commit %s not found", commit.Short())
	}
	first, _, _ := strings.Cut(string(raw), "\n")
	tree, ok := strings.CutPrefix(first, "tree ")
	if !ok {
		return "", fmt.Errorf("malformed commit %s", commit.Short())
	}
	return gitx.OID(tree), nil
}

func (h *FakeHistory) CatCommit(ctx context.Context, rev gitx.OID) ([]byte, error) {
	raw, ok := h.commits[rev]
	if !ok {
		return nil, fmt.Errorf("commit %s not found", rev.Short())
	}
	return raw, nil
}

func (h *FakeHistory) WriteCommit(ctx context.Context, raw []byte) (gitx.OID, error) {
	sum := sha256.Sum256(raw)
	id := gitx.OID(hex.EncodeToString(sum[:])[:40])
	h.commits[id] = raw
	return id, nil
}

func (h *FakeHistory) UpdateRef(ctx context.Context, branch string, commit gitx.OID) error {
	h.refs[branch] = append(h.refs[branch], commit)
	return nil
}
