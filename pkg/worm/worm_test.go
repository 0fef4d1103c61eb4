package worm_test

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

var (
	hashA = strings.Repeat("a", 64)
	hashB = strings.Repeat("b", 64)
	hashC = strings.Repeat("c", 64)
	hashD = strings.Repeat("d", 64)
)

func TestDigest_KnownValue(t *testing.T) {
	// SHA-256 of empty input – well-known value.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", worm.Digest(nil))
	assert.Len(t, worm.DigestString("docauth"), worm.DigestLen)
}

func TestRootFingerprint_MatchesFlatScheme(t *testing.T) {
	root, err := worm.RootFingerprint(worm.Leaves{Text: hashA, Image: hashB})
	require.NoError(t, err)

	leaves := []string{worm.DigestString(hashA), worm.DigestString(hashB)}
	if leaves[0] > leaves[1] {
		leaves[0], leaves[1] = leaves[1], leaves[0]
	}
	assert.Equal(t, worm.DigestString(leaves[0]+leaves[1]), root)
	assert.True(t, worm.IsHexDigest(root))
}

func TestRootFingerprint_SlotOrderIrrelevant(t *testing.T) {
	base, err := worm.RootFingerprint(worm.Leaves{Text: hashA, Image: hashB, Signature: hashC, Stamp: hashD})
	require.NoError(t, err)

	permutations := []worm.Leaves{
		{Text: hashD, Image: hashC, Signature: hashB, Stamp: hashA},
		{Text: hashB, Image: hashA, Signature: hashD, Stamp: hashC},
		{Text: hashC, Image: hashD, Signature: hashA, Stamp: hashB},
	}
	for _, p := range permutations {
		got, err := worm.RootFingerprint(p)
		require.NoError(t, err)
		assert.Equal(t, base, got)
	}

	// Same set of values in different slots with gaps.
	x, err := worm.RootFingerprint(worm.Leaves{Text: hashA, Stamp: hashB})
	require.NoError(t, err)
	y, err := worm.RootFingerprint(worm.Leaves{Image: hashB, Signature: hashA})
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestRootFingerprint_EmptyLeavesIgnored(t *testing.T) {
	withEmpty, err := worm.RootFingerprint(worm.Leaves{Text: hashA, Image: "", Signature: "", Stamp: ""})
	require.NoError(t, err)
	assert.Equal(t, worm.DigestString(worm.DigestString(hashA)), withEmpty)
}

func TestRootFingerprint_NoLeaves(t *testing.T) {
	_, err := worm.RootFingerprint(worm.Leaves{})
	require.ErrorIs(t, err, worm.ErrNoLeaves)
}

func TestVersionFingerprint_Chain(t *testing.T) {
	root1 := worm.DigestString("root-1")
	root2 := worm.DigestString("root-2")

	v1 := worm.VersionFingerprint("", root1)
	assert.Equal(t, worm.DigestString(root1), v1, "first version chains from the empty string")

	v2 := worm.VersionFingerprint(v1, root2)
	assert.Equal(t, worm.DigestString(v1+root2), v2)
	assert.NotEqual(t, v1, v2)

	// Tampering with v1 must invalidate v2.
	v1Tampered := worm.VersionFingerprint("", worm.DigestString("forged"))
	assert.NotEqual(t, v2, worm.VersionFingerprint(v1Tampered, root2))
}

func TestAuditFingerprint_BindsEveryField(t *testing.T) {
	in := worm.AuditInput{
		Actor:     "42",
		OrgID:     "7",
		DocID:     "CERT-001",
		Action:    "UPLOAD",
		Timestamp: "2026-10-15T10:00:00.000Z",
		Prev:      "",
	}
	base := worm.AuditFingerprint(in, "test-secret")
	assert.Equal(t, worm.DigestString("427CERT-001UPLOAD2026-10-15T10:00:00.000Ztest-secret"), base)

	mutations := []func(*worm.AuditInput){
		func(a *worm.AuditInput) { a.Actor = "43" },
		func(a *worm.AuditInput) { a.OrgID = "8" },
		func(a *worm.AuditInput) { a.DocID = "CERT-002" },
		func(a *worm.AuditInput) { a.Action = "REVOKE" },
		func(a *worm.AuditInput) { a.Timestamp = "2026-10-15T10:00:00.001Z" },
		func(a *worm.AuditInput) { a.Prev = hashA },
	}
	for _, mutate := range mutations {
		changed := in
		mutate(&changed)
		assert.NotEqual(t, base, worm.AuditFingerprint(changed, "test-secret"))
	}
	assert.NotEqual(t, base, worm.AuditFingerprint(in, "other-secret"), "secret must be bound")
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 10, 15, 10, 4, 5, 123456789, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "2026-10-15T08:04:05.123Z", worm.FormatTimestamp(ts))
}

func TestIsHexDigest(t *testing.T) {
	assert.True(t, worm.IsHexDigest(hashA))
	assert.False(t, worm.IsHexDigest(strings.Repeat("A", 64)), "uppercase is rejected")
	assert.False(t, worm.IsHexDigest(strings.Repeat("a", 63)))
	assert.False(t, worm.IsHexDigest(strings.Repeat("g", 64)))
}

func TestVerifyObject(t *testing.T) {
	data := []byte("ledger snapshot")
	sum := sha256.Sum256(data)
	require.NoError(t, worm.VerifyObject(data, hex.EncodeToString(sum[:])))

	err := worm.VerifyObject(data, strings.Repeat("0", 64))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sha256 mismatch")
}
