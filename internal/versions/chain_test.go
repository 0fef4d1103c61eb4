package versions

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

func buildChain(roots ...string) (*models.Document, []*models.DocumentVersion) {
	doc := &models.Document{DocID: "CERT-001"}
	var list []*models.DocumentVersion
	prev := ""
	for i, root := range roots {
		v := &models.DocumentVersion{DocID: "CERT-001", VersionNumber: i + 1, RootFingerprint: root}
		if prev != "" {
			p := prev
			v.PrevVersionFingerprint = &p
		}
		v.VersionFingerprint = worm.VersionFingerprint(prev, root)
		prev = v.VersionFingerprint
		list = append(list, v)
		doc.VersionFingerprints = append(doc.VersionFingerprints, v.VersionFingerprint)
	}
	doc.CurrentVersion = len(list)
	return doc, list
}

func TestCheckChain_Valid(t *testing.T) {
	doc, list := buildChain(strings.Repeat("1", 64), strings.Repeat("2", 64), strings.Repeat("3", 64))
	r := CheckChain(doc, list)
	assert.True(t, r.Valid)
	assert.Equal(t, 3, r.TotalVersions)
	assert.NoError(t, r.Violation())
}

func TestCheckChain_TamperedRoot(t *testing.T) {
	doc, list := buildChain(strings.Repeat("1", 64), strings.Repeat("2", 64))
	list[1].RootFingerprint = strings.Repeat("9", 64)

	r := CheckChain(doc, list)
	require.False(t, r.Valid)
	require.Len(t, r.Issues, 1)
	assert.Equal(t, int64(2), r.Issues[0].LogID)
	assert.Equal(t, "version fingerprint mismatch", r.Issues[0].Message)
	assert.ErrorIs(t, r.Violation(), models.ErrIntegrity)
}

func TestCheckChain_CounterAndGap(t *testing.T) {
	doc, list := buildChain(strings.Repeat("1", 64), strings.Repeat("2", 64))
	doc.CurrentVersion = 3
	r := CheckChain(doc, list)
	assert.False(t, r.Valid)

	doc, list = buildChain(strings.Repeat("1", 64), strings.Repeat("2", 64))
	list[1].VersionNumber = 5
	r = CheckChain(doc, list)
	assert.False(t, r.Valid)
	assert.Equal(t, "version number gap", r.Issues[0].Message)
}

func TestBackoffBounded(t *testing.T) {
	for attempt := 0; attempt < 64; attempt++ {
		d := backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, maxBackoff)
	}
}
