// Package testutil provides deterministic in-memory stand-ins for the git
// object store, the apply primitive and the pile history, so orchestration
// logic can be tested without a git binary.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/pilegen/pilegen/internal/gitx"
	"github.com/pilegen/pilegen/internal/pile"
)

// FakeObjects is an in-memory object store. Deleting an entry simulates
// garbage collection pruning a commit.
type FakeObjects struct {
	mu      sync.Mutex
	objects map[gitx.OID]bool
}

// NewFakeObjects seeds the store with the given identities.
func NewFakeObjects(ids ...gitx.OID) *FakeObjects {
	f := &FakeObjects{objects: map[gitx.OID]bool{}}
	for _, id := range ids {
		f.objects[id] = true
	}
	return f
}

// Add registers an object.
func (f *FakeObjects) Add(id gitx.OID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[id] = true
}

// Prune removes an object, simulating external garbage collection.
func (f *FakeObjects) Prune(id gitx.OID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, id)
}

// ObjectExists implements engine.ObjectStore.
func (f *FakeObjects) ObjectExists(ctx context.Context, id gitx.OID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[id]
}

// FakeApplier produces deterministic commit identities: the same (parent,
// patch content) pair always yields the same commit, mirroring the
// byte-determinism of the real applier under a fixed configuration.
type FakeApplier struct {
	Objects *FakeObjects

	// Applied records the patch names applied, in order.
	Applied []string

	// FailOn maps a patch name to the error its application returns.
	FailOn map[string]error
}

// NewFakeApplier builds an applier registering produced commits in objects.
func NewFakeApplier(objects *FakeObjects) *FakeApplier {
	return &FakeApplier{Objects: objects, FailOn: map[string]error{}}
}

// Apply implements apply.Applier.
func (a *FakeApplier) Apply(ctx context.Context, parent gitx.OID, p pile.Patch) (gitx.OID, error) {
	if err := a.FailOn[p.Name]; err != nil {
		return "", err
	}
	a.Applied = append(a.Applied, p.Name)

	h := sha256.New()
	h.Write([]byte(parent))
	h.Write([]byte{0})
	h.Write([]byte(p.Message))
	h.Write([]byte{0})
	h.Write(p.Diff)
	id := gitx.OID(hex.EncodeToString(h.Sum(nil))[:40])
	a.Objects.Add(id)
	return id, nil
}

// MemCache is an in-memory engine.Cache.
type MemCache struct {
	entries map[string]string

	// Lookups and Records count calls, for asserting that a disabled or
	// bypassed cache really was not touched.
	Lookups int
	Records int
}

// NewMemCache builds an empty in-memory cache.
func NewMemCache() *MemCache {
	return &MemCache{entries: map[string]string{}}
}

func cacheKey(parent, fingerprint, signature string) string {
	return fmt.Sprintf("%s\x00%s\x00%s", parent, fingerprint, signature)
}

// Lookup implements engine.Cache.
func (c *MemCache) Lookup(ctx context.Context, parent, fingerprint, signature string) (string, bool, error) {
	c.Lookups++
	commit, ok := c.entries[cacheKey(parent, fingerprint, signature)]
	return commit, ok, nil
}

// Record implements engine.Cache.
func (c *MemCache) Record(ctx context.Context, parent, fingerprint, signature, commit string) error {
	c.Records++
	c.entries[cacheKey(parent, fingerprint, signature)] = commit
	return nil
}

// Forget implements engine.Cache.
func (c *MemCache) Forget(ctx context.Context, parent, fingerprint, signature string) error {
	delete(c.entries, cacheKey(parent, fingerprint, signature))
	return nil
}

// Len returns the number of live entries.
func (c *MemCache) Len() int { return len(c.entries) }
