// Package fingerprint computes content-derived identities for patches and
// applier configurations. Fingerprints are independent of a patch's file
// name, series position and of any previously generated commit, which is
// what makes "reorder without modification" fully cacheable.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pilegen/pilegen/internal/apply"
	"github.com/pilegen/pilegen/internal/pile"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration without colliding with old values.
const (
	DomainPatch  = "pilegen/patch/v1"
	DomainConfig = "pilegen/config/v1"
)

// Value is a hex-encoded fingerprint.
type Value string

func (v Value) String() string { return string(v) }

// Patch computes the fingerprint of a patch: a deterministic hash over its
// diff payload, commit message and author metadata. The target parent is
// deliberately excluded; the cache folds it in as a separate key
// component.
func Patch(p pile.Patch) (Value, error) {
	obj := map[string]any{
		"message":      p.Message,
		"author_name":  p.AuthorName,
		"author_email": p.AuthorEmail,
		"author_date":  p.AuthorDate,
		"diff_sha256":  hex.EncodeToString(hashBytes(p.Diff)),
	}
	canonical, err := marshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint patch %q: %w", p.Name, err)
	}
	return hashWithDomain(DomainPatch, canonical), nil
}

// ConfigSignature captures every applier option that changes output bytes:
// committer identity overrides and whitespace fixing. The enumeration is
// authoritative; omitting a byte-affecting option here would cause
// incorrect cache reuse across differing outputs.
func ConfigSignature(cfg apply.Config) (Value, error) {
	obj := map[string]any{
		"committer_name":  cfg.CommitterName,
		"committer_email": cfg.CommitterEmail,
		"fix_whitespace":  cfg.FixWhitespace,
	}
	canonical, err := marshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("config signature: %w", err)
	}
	return hashWithDomain(DomainConfig, canonical), nil
}

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain || 0x00 || data). The null separator prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) Value {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return Value(hex.EncodeToString(h.Sum(nil)))
}

func hashBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
