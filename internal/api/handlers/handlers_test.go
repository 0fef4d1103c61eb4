package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/handlers"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/middleware"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/routes"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/auth"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/db/memdb"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/qr"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/queue"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/storage"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/verification"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/versions"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/workflow"
)

const jwtSecret = "handler-test-secret"

var (
	textHash  = strings.Repeat("a", 64)
	imageHash = strings.Repeat("b", 64)
)

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

type testServer struct {
	e       *echo.Echo
	db      *memdb.DB
	ledger  *ledger.Ledger
	archive *storage.MultiStore
	queue   *MockEnqueuer
}

func newServer(t *testing.T, checks map[string]func(context.Context) error) *testServer {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	db := memdb.New()
	l, err := ledger.New(db, "ledger-secret", nil, m, log)
	require.NoError(t, err)
	strategy, err := versions.SelectStrategy(ctx, db, versions.ModeAuto, 0, m, log)
	require.NoError(t, err)
	fs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	archive := storage.NewMultiStore(fs)
	q := &MockEnqueuer{}

	h := handlers.New(handlers.Deps{
		Versions:      versions.NewService(db, strategy, l, "", m, log),
		Workflow:      workflow.New(db, db, l, nil, m, log),
		Ledger:        l,
		Verifier:      verification.New(db, db, l, m, log),
		Stats:         db,
		Counts:        db,
		Snapshots:     db,
		Archive:       archive,
		Queue:         q,
		PublicBaseURL: "https://docs.example.org",
		Checks:        checks,
		Version:       "test",
		Log:           log,
	})

	e := echo.New()
	e.Use(middleware.RequestID())
	routes.Register(e, h, jwtSecret, 0, reg)
	return &testServer{e: e, db: db, ledger: l, archive: archive, queue: q}
}

func token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := auth.IssueJWT(jwtSecret, id, time.Hour)
	require.NoError(t, err)
	return tok
}

var (
	issuer  = auth.Identity{UserID: "issuer", OrgID: "org-1", Role: "admin"}
	foreign = auth.Identity{UserID: "mallory", OrgID: "org-2", Role: "admin"}
	root    = auth.Identity{UserID: "root", OrgID: "platform", Role: auth.RoleSuperAdmin}
)

func (s *testServer) do(t *testing.T, method, path string, id *auth.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if id != nil {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, *id))
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) upload(t *testing.T, docID string, hashes models.HashParts) versions.CreateResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/documents", &issuer, handlers.UploadRequest{
		DocID: docID, Type: "certificate", Hashes: hashes,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[versions.CreateResult](t, rec)
}

func TestUpload_CreatesVersionsAndEnforcesOrg(t *testing.T) {
	s := newServer(t, nil)

	first := s.upload(t, "CERT-001", models.HashParts{TextHash: textHash})
	assert.Equal(t, 1, first.VersionNumber)
	assert.Nil(t, first.PrevVersionFingerprint)
	second := s.upload(t, "CERT-001", models.HashParts{TextHash: textHash, ImageHash: imageHash})
	assert.Equal(t, 2, second.VersionNumber)
	require.NotNil(t, second.PrevVersionFingerprint)
	assert.Equal(t, first.VersionFingerprint, *second.PrevVersionFingerprint)

	rec := s.do(t, http.MethodGet, "/api/v1/documents/CERT-001", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[models.Document](t, rec)
	assert.Equal(t, 2, doc.CurrentVersion)

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001", &foreign, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001", &root, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001/versions/2", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[map[string]any](t, rec)
	assert.Equal(t, second.VersionFingerprint, v["version_fingerprint"])
	assert.Equal(t, imageHash, v["hashes"].(map[string]any)["imageHash"])

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001/chain/verify", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["isValid"])
}

func TestUpload_ValidationAndAuthErrors(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/documents", &issuer, handlers.UploadRequest{
		DocID: "CERT-001", Type: "certificate", Hashes: models.HashParts{TextHash: "not-hex"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "hashes.textHash", body["details"].(map[string]any)["field"])
	assert.NotEmpty(t, body["request_id"])

	rec = s.do(t, http.MethodPost, "/api/v1/documents", nil, handlers.UploadRequest{DocID: "CERT-001"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/documents/MISSING", &issuer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001/versions/zero", &issuer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyHashes(t *testing.T) {
	s := newServer(t, nil)
	s.upload(t, "CERT-001", models.HashParts{TextHash: textHash, ImageHash: imageHash})

	rec := s.do(t, http.MethodPost, "/api/v1/verify", &issuer, handlers.VerifyRequest{
		DocID: "CERT-001", Hashes: models.HashParts{TextHash: textHash, ImageHash: imageHash},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[verification.Result](t, rec)
	assert.Equal(t, verification.OutcomeValidActive, res.Outcome)
	assert.True(t, res.CryptographicallyAuthentic)

	rec = s.do(t, http.MethodPost, "/api/v1/verify", &issuer, handlers.VerifyRequest{
		DocID: "CERT-001", Hashes: models.HashParts{TextHash: textHash},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[verification.Result](t, rec)
	assert.Equal(t, verification.OutcomeHashMismatch, res.Outcome)
	assert.Equal(t, 30, res.PartMatches.TamperScore)

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001/stats", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stat := decode[models.VerificationStat](t, rec)
	assert.Equal(t, int64(2), stat.TotalVerifications)
	assert.InDelta(t, 15.0, stat.AvgTamperScore, 1e-9)

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001/verifications?limit=1", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]models.VerificationResult](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, string(verification.OutcomeHashMismatch), rows[0].Outcome)
	require.NotNil(t, rows[0].TamperScore)
	assert.Equal(t, 30, *rows[0].TamperScore)
}

func TestQRFlow(t *testing.T) {
	s := newServer(t, nil)
	created := s.upload(t, "CERT-001", models.HashParts{TextHash: textHash})

	rec := s.do(t, http.MethodGet, "/api/v1/documents/CERT-001/qr", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, qr.Encode("CERT-001", created.VersionFingerprint), body["payload"])
	assert.True(t, strings.HasPrefix(body["verifyUrl"], "https://docs.example.org/public/verify?"))

	rec = s.do(t, http.MethodPost, "/api/v1/verify/qr", &issuer, handlers.VerifyQRRequest{Payload: body["payload"]})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, verification.OutcomeValidActive, decode[verification.Result](t, rec).Outcome)

	rec = s.do(t, http.MethodPost, "/api/v1/verify/qr", &issuer, handlers.VerifyQRRequest{Payload: "https://evil.example/x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	u, err := url.Parse(body["verifyUrl"])
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/public/verify?"+u.RawQuery, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, verification.OutcomeValidActive, decode[verification.Result](t, rec).Outcome)

	entries, err := s.ledger.Entries(context.Background(), models.Scope{OrgID: "org-1", DocID: "CERT-001"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, auth.ActorPublic, entries[2].Actor)
}

func TestWorkflowEndpoints(t *testing.T) {
	s := newServer(t, nil)
	s.upload(t, "CERT-001", models.HashParts{TextHash: textHash})

	rec := s.do(t, http.MethodPost, "/api/v1/workflow", &foreign, handlers.WorkflowRequest{DocumentID: "CERT-001", State: "REVOKED"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/workflow", &issuer, handlers.WorkflowRequest{DocumentID: "CERT-001", State: "ARCHIVED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/workflow", &issuer, handlers.WorkflowRequest{DocumentID: "CERT-001", State: "REVOKED", Reason: "forged"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "REVOKED", decode[map[string]any](t, rec)["newState"])

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001/revocations", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["revokedCount"])

	rec = s.do(t, http.MethodGet, "/api/v1/documents/CERT-001/workflow", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.WorkflowTransition](t, rec), 1)
}

func TestAuditEndpoints(t *testing.T) {
	s := newServer(t, nil)
	s.upload(t, "CERT-001", models.HashParts{TextHash: textHash})
	s.upload(t, "CERT-001", models.HashParts{TextHash: imageHash})

	rec := s.do(t, http.MethodGet, "/api/v1/audit/verify/org-1/CERT-001", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[ledger.ChainReport](t, rec)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.TotalEntries)

	rec = s.do(t, http.MethodGet, "/api/v1/audit/verify/org-1/CERT-001", &foreign, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/audit/org/org-1?limit=1", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.AuditLogEntry](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/v1/audit/document/CERT-001", &foreign, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.AuditLogEntry](t, rec))

	s.queue.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == queue.TypeLedgerVerify
	})).Return(&asynq.TaskInfo{ID: "task-1", State: asynq.TaskStatePending}, nil).Once()
	rec = s.do(t, http.MethodPost, "/api/v1/audit/verify/org-1/CERT-001/async", &issuer, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "task-1", decode[map[string]string](t, rec)["task_id"])
	s.queue.AssertExpectations(t)
}

func TestSnapshotDownload(t *testing.T) {
	s := newServer(t, nil)
	ctx := context.Background()
	scope := models.Scope{OrgID: "org-1", DocID: "CERT-001"}

	rec := s.do(t, http.MethodGet, "/api/v1/audit/snapshots/org-1/CERT-001", &issuer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	raw := []byte(`{"id":1}` + "\n")
	meta, provider, err := s.archive.PutSnapshot(ctx, scope, time.Now(), raw)
	require.NoError(t, err)
	require.NoError(t, s.db.InsertSnapshot(ctx, &models.LedgerSnapshot{
		OrgID: "org-1", DocID: "CERT-001", S3Key: meta.Key, Provider: provider,
		SHA256: meta.SHA256, EntryCount: 1, HeadHash: textHash,
	}))

	rec = s.do(t, http.MethodGet, "/api/v1/audit/snapshots/org-1/CERT-001/download", &issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, raw, rec.Body.Bytes())
	assert.Equal(t, meta.SHA256, rec.Header().Get("X-SHA256"))
	assert.Equal(t, textHash, rec.Header().Get("X-Chain-Head"))
}

func TestStatusCounts_SuperAdminOnly(t *testing.T) {
	s := newServer(t, nil)
	s.upload(t, "CERT-001", models.HashParts{TextHash: textHash})

	rec := s.do(t, http.MethodGet, "/api/v1/stats/versions", &issuer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/stats/versions", &root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]float64](t, rec)["APPROVED"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
	})
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	s.upload(t, "CERT-001", models.HashParts{TextHash: textHash})
	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docauth_uploads_total")

	s = newServer(t, map[string]func(context.Context) error{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, rec)["status"])
}

func TestWorkflow_ForeignCallerChangesNothing(t *testing.T) {
	s := newServer(t, nil)
	s.upload(t, "CERT-001", models.HashParts{TextHash: textHash})

	rec := s.do(t, http.MethodPost, "/api/v1/workflow", &foreign, handlers.WorkflowRequest{DocumentID: "CERT-001", State: "REVOKED"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "access denied", body["message"])
	assert.NotContains(t, rec.Body.String(), "newState")

	v, err := s.db.GetVersion(context.Background(), "CERT-001", 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, v.Status)

	history, err := s.db.ListTransitions(context.Background(), "CERT-001")
	require.NoError(t, err)
	assert.Empty(t, history)

	entries, err := s.ledger.Entries(context.Background(), models.Scope{OrgID: "org-1", DocID: "CERT-001"})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the upload is audited")
}

func TestDocumentRoutes_UnknownAndForeign(t *testing.T) {
	s := newServer(t, nil)
	s.upload(t, "CERT-001", models.HashParts{TextHash: textHash})

	paths := []string{
		"/api/v1/documents/%s",
		"/api/v1/documents/%s/versions",
		"/api/v1/documents/%s/versions/1",
		"/api/v1/documents/%s/chain/verify",
		"/api/v1/documents/%s/qr",
		"/api/v1/documents/%s/stats",
		"/api/v1/documents/%s/verifications",
		"/api/v1/documents/%s/workflow",
		"/api/v1/documents/%s/revocations",
	}
	for _, p := range paths {
		rec := s.do(t, http.MethodGet, fmt.Sprintf(p, "NOPE-1"), &issuer, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
		assert.Equal(t, float64(http.StatusNotFound), decode[map[string]any](t, rec)["code"], p)

		rec = s.do(t, http.MethodGet, fmt.Sprintf(p, "CERT-001"), &foreign, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, p)
		assert.Equal(t, "access denied", decode[map[string]any](t, rec)["message"], p)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/workflow", &issuer, handlers.WorkflowRequest{DocumentID: "NOPE-1", State: "REVOKED"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
