package versions_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/db/memdb"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/versions"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

var (
	hashA = strings.Repeat("a", 64)
	hashB = strings.Repeat("b", 64)
	hashC = strings.Repeat("c", 64)
)

type fixture struct {
	db     *memdb.DB
	ledger *ledger.Ledger
	svc    *versions.Service
}

func newFixture(t *testing.T, db *memdb.DB, mode string, maxRetries int, initial models.WorkflowStatus) *fixture {
	t.Helper()
	log := zap.NewNop()
	l, err := ledger.New(db, "test-secret", nil, nil, log)
	require.NoError(t, err)
	strategy, err := versions.SelectStrategy(context.Background(), db, mode, maxRetries, nil, log)
	require.NoError(t, err)
	return &fixture{db: db, ledger: l, svc: versions.NewService(db, strategy, l, initial, nil, log)}
}

func upload(docID string, hashes models.HashParts) versions.CreateRequest {
	return versions.CreateRequest{
		DocID:  docID,
		OrgID:  "org-1",
		Actor:  "user-1",
		Type:   "certificate",
		Hashes: hashes,
	}
}

func TestCreateVersion_FirstAndSecondUpload(t *testing.T) {
	f := newFixture(t, memdb.New(), versions.ModeAuto, 0, "")
	ctx := context.Background()

	first, err := f.svc.CreateVersion(ctx, upload("CERT-001", models.HashParts{TextHash: hashA, ImageHash: hashB}))
	require.NoError(t, err)
	assert.Equal(t, 1, first.VersionNumber)
	assert.True(t, worm.IsHexDigest(first.RootFingerprint))
	assert.Equal(t, worm.DigestString(""+first.RootFingerprint), first.VersionFingerprint)
	assert.Nil(t, first.PrevVersionFingerprint)
	assert.Equal(t, models.StatusApproved, first.Status)

	second, err := f.svc.CreateVersion(ctx, upload("CERT-001", models.HashParts{TextHash: hashC}))
	require.NoError(t, err)
	assert.Equal(t, 2, second.VersionNumber)
	require.NotNil(t, second.PrevVersionFingerprint)
	assert.Equal(t, first.VersionFingerprint, *second.PrevVersionFingerprint)
	assert.Equal(t, worm.VersionFingerprint(first.VersionFingerprint, second.RootFingerprint), second.VersionFingerprint)

	doc, err := f.svc.GetDocument(ctx, "CERT-001")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.CurrentVersion)
	assert.Equal(t, []string{first.VersionFingerprint, second.VersionFingerprint}, doc.VersionFingerprints)

	latest, err := f.svc.GetVersion(ctx, "CERT-001", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.VersionNumber)

	parts, err := f.svc.GetHashParts(ctx, "CERT-001", 1)
	require.NoError(t, err)
	assert.Equal(t, hashA, parts.TextHash)
	assert.Equal(t, "", parts.SignatureHash)
}

func TestCreateVersion_RecordsUploadInLedger(t *testing.T) {
	f := newFixture(t, memdb.New(), versions.ModeAuto, 0, "")
	ctx := context.Background()

	_, err := f.svc.CreateVersion(ctx, upload("CERT-001", models.HashParts{TextHash: hashA}))
	require.NoError(t, err)

	entries, err := f.ledger.Entries(ctx, models.Scope{OrgID: "org-1", DocID: "CERT-001"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionUpload, entries[0].Action)
	assert.Equal(t, "user-1", entries[0].Actor)
}

func TestCreateVersion_InitialStatusPolicy(t *testing.T) {
	f := newFixture(t, memdb.New(), versions.ModeAuto, 0, models.StatusPending)
	res, err := f.svc.CreateVersion(context.Background(), upload("CERT-001", models.HashParts{ImageHash: hashA}))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Status)
}

func TestCreateVersion_RejectsMalformedInputBeforeMutation(t *testing.T) {
	cases := map[string]versions.CreateRequest{
		"lowercase doc id":   upload("cert-001", models.HashParts{TextHash: hashA}),
		"short doc id":       upload("AB", models.HashParts{TextHash: hashA}),
		"unknown type":       func() versions.CreateRequest { r := upload("CERT-001", models.HashParts{TextHash: hashA}); r.Type = "passport"; return r }(),
		"no text or image":   upload("CERT-001", models.HashParts{SignatureHash: hashA}),
		"uppercase hex":      upload("CERT-001", models.HashParts{TextHash: strings.Repeat("A", 64)}),
		"short hash":         upload("CERT-001", models.HashParts{TextHash: "abc"}),
		"missing org":        func() versions.CreateRequest { r := upload("CERT-001", models.HashParts{TextHash: hashA}); r.OrgID = ""; return r }(),
		"missing actor":      func() versions.CreateRequest { r := upload("CERT-001", models.HashParts{TextHash: hashA}); r.Actor = ""; return r }(),
		"non-hex stamp hash": upload("CERT-001", models.HashParts{TextHash: hashA, StampHash: strings.Repeat("z", 64)}),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, memdb.New(), versions.ModeAuto, 0, "")
			_, err := f.svc.CreateVersion(context.Background(), req)
			require.ErrorIs(t, err, models.ErrValidation)

			_, err = f.svc.GetDocument(context.Background(), "CERT-001")
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestCreateVersion_RejectsForeignOrg(t *testing.T) {
	f := newFixture(t, memdb.New(), versions.ModeAuto, 0, "")
	ctx := context.Background()
	_, err := f.svc.CreateVersion(ctx, upload("CERT-001", models.HashParts{TextHash: hashA}))
	require.NoError(t, err)

	req := upload("CERT-001", models.HashParts{TextHash: hashB})
	req.OrgID = "org-2"
	_, err = f.svc.CreateVersion(ctx, req)
	require.ErrorIs(t, err, models.ErrValidation)

	doc, _ := f.svc.GetDocument(ctx, "CERT-001")
	assert.Equal(t, 1, doc.CurrentVersion)
}

func TestCreateVersion_ConcurrentUploadsAreContiguous(t *testing.T) {
	for _, mode := range []string{versions.ModeTransactional, versions.ModeOptimistic} {
		t.Run(mode, func(t *testing.T) {
			f := newFixture(t, memdb.New(), mode, 200, "")
			const uploads = 25

			var wg sync.WaitGroup
			for i := 0; i < uploads; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.svc.CreateVersion(context.Background(), upload("CERT-001", models.HashParts{TextHash: hashA}))
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			list, err := f.svc.ListVersions(context.Background(), "CERT-001")
			require.NoError(t, err)
			require.Len(t, list, uploads)
			for i, v := range list {
				assert.Equal(t, i+1, v.VersionNumber)
			}

			report, err := f.svc.VerifyVersionChain(context.Background(), "CERT-001")
			require.NoError(t, err)
			assert.True(t, report.Valid, "issues: %+v", report.Issues)
		})
	}
}

func TestSelectStrategy(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	s, err := versions.SelectStrategy(ctx, memdb.New(), versions.ModeAuto, 0, nil, log)
	require.NoError(t, err)
	assert.Equal(t, versions.ModeTransactional, s.Name())

	noTx := memdb.New(memdb.WithTransactions(false))
	s, err = versions.SelectStrategy(ctx, noTx, versions.ModeAuto, 0, nil, log)
	require.NoError(t, err)
	assert.Equal(t, versions.ModeOptimistic, s.Name())

	_, err = versions.SelectStrategy(ctx, noTx, versions.ModeTransactional, 0, nil, log)
	assert.Error(t, err)

	s, err = versions.SelectStrategy(ctx, noTx, versions.ModeBestEffort, 0, nil, log)
	require.NoError(t, err)
	assert.Equal(t, versions.ModeBestEffort, s.Name())

	_, err = versions.SelectStrategy(ctx, noTx, "yolo", 0, nil, log)
	assert.Error(t, err)
}

func TestSelectStrategy_ExportsMode(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := versions.SelectStrategy(context.Background(), memdb.New(), versions.ModeBestEffort, 0, metrics.New(reg), zap.NewNop())
	require.NoError(t, err)

	expected := `
# HELP docauth_version_creation_mode active version creation strategy (1 for the active mode)
# TYPE docauth_version_creation_mode gauge
docauth_version_creation_mode{mode="best_effort"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docauth_version_creation_mode"))
}

// alwaysConflict loses every compare-and-swap.
type alwaysConflict struct {
	*memdb.DB
	attempts int
}

func (a *alwaysConflict) CompareAndAppend(context.Context, int, *models.VersionCommit) error {
	a.attempts++
	return models.ErrConflict
}

func TestOptimistic_RetriesThenGivesUp(t *testing.T) {
	store := &alwaysConflict{DB: memdb.New(memdb.WithTransactions(false))}
	log := zap.NewNop()
	l, err := ledger.New(store.DB, "s", nil, nil, log)
	require.NoError(t, err)
	strategy, err := versions.SelectStrategy(context.Background(), store, versions.ModeOptimistic, 3, nil, log)
	require.NoError(t, err)
	svc := versions.NewService(store, strategy, l, "", nil, log)

	_, err = svc.CreateVersion(context.Background(), upload("CERT-001", models.HashParts{TextHash: hashA}))
	require.ErrorIs(t, err, models.ErrRetriesExhausted)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, 4, store.attempts, "one attempt plus three retries")
}

func TestBestEffort_SequentialUploads(t *testing.T) {
	f := newFixture(t, memdb.New(), versions.ModeBestEffort, 0, "")
	for i := 1; i <= 3; i++ {
		res, err := f.svc.CreateVersion(context.Background(), upload("CERT-001", models.HashParts{TextHash: hashA}))
		require.NoError(t, err)
		assert.Equal(t, i, res.VersionNumber)
	}
}

func TestReads_NotFound(t *testing.T) {
	f := newFixture(t, memdb.New(), versions.ModeAuto, 0, "")
	ctx := context.Background()

	_, err := f.svc.GetVersion(ctx, "NOPE", 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.svc.ListVersions(ctx, "NOPE")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.svc.VerifyVersionChain(ctx, "NOPE")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
