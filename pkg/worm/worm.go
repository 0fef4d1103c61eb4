// Package worm provides the integrity primitives behind docauth: the content
// digest, the multi-part root fingerprint, the chained version fingerprint and
// the secret-salted audit fingerprint. Every function here is pure so that a
// chain can be recomputed independently of the process that wrote it.
package worm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DigestLen is the length of every hex digest produced by this package.
const DigestLen = 64

// TimestampLayout is the wire form of audit timestamps: UTC, millisecond
// precision, trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ErrNoLeaves is returned by RootFingerprint when every leaf is empty.
var ErrNoLeaves = errors.New("worm: root fingerprint requires at least one non-empty leaf")

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestString is Digest over the UTF-8 bytes of s.
func DigestString(s string) string {
	return Digest([]byte(s))
}

// Leaves are the per-modality hashes of one document version. Empty strings
// mean "absent".
type Leaves struct {
	Text      string
	Image     string
	Signature string
	Stamp     string
}

// Present returns the non-empty leaves in slot order.
func (l Leaves) Present() []string {
	out := make([]string, 0, 4)
	for _, v := range []string{l.Text, l.Image, l.Signature, l.Stamp} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// RootFingerprint aggregates the present leaves: each leaf is digested, the
// digests are sorted ascending, concatenated and digested once more. Slot
// order does not affect the result.
func RootFingerprint(l Leaves) (string, error) {
	present := l.Present()
	if len(present) == 0 {
		return "", ErrNoLeaves
	}
	hashed := make([]string, len(present))
	for i, leaf := range present {
		hashed[i] = DigestString(leaf)
	}
	sort.Strings(hashed)
	return DigestString(strings.Join(hashed, "")), nil
}

// VersionFingerprint chains a version to its predecessor:
// SHA-256(prev || root). prev is "" for the first version.
func VersionFingerprint(prev, root string) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte(root))
	return hex.EncodeToString(h.Sum(nil))
}

// AuditInput carries the fields bound into one audit fingerprint.
type AuditInput struct {
	Actor     string
	OrgID     string
	DocID     string
	Action    string
	Timestamp string // FormatTimestamp output
	Prev      string // "" for the first entry in a scope
}

// AuditFingerprint computes
// SHA-256(actor || org || doc || action || timestamp || prev || secret).
func AuditFingerprint(in AuditInput, secret string) string {
	h := sha256.New()
	for _, part := range []string{in.Actor, in.OrgID, in.DocID, in.Action, in.Timestamp, in.Prev, secret} {
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// IsHexDigest reports whether s looks like a lowercase hex SHA-256 digest.
func IsHexDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// VerifyObject confirms that the SHA-256 of data matches expected.
func VerifyObject(data []byte, expectedHex string) error {
	got := Digest(data)
	if got != expectedHex {
		return fmt.Errorf("worm: sha256 mismatch: got %s, expected %s", got, expectedHex)
	}
	return nil
}
