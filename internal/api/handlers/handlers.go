package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/middleware"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/auth"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/verification"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/versions"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/workflow"
)

type StatsReader interface {
	GetVerificationStat(ctx context.Context, docID string) (*models.VerificationStat, error)
	ListVerificationResults(ctx context.Context, docID string, limit int) ([]*models.VerificationResult, error)
}

type StatusCounter interface {
	CountByStatus(ctx context.Context) (models.StatusCounts, error)
}

type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, scope models.Scope) (*models.LedgerSnapshot, error)
}

type SnapshotFetcher interface {
	GetSnapshot(ctx context.Context, key, sha256hex string) ([]byte, error)
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Deps are the services behind the HTTP surface. Queue and Archive may be nil
// when no Redis or object storage is configured.
type Deps struct {
	Versions      *versions.Service
	Workflow      *workflow.Machine
	Ledger        *ledger.Ledger
	Verifier      *verification.Engine
	Stats         StatsReader
	Counts        StatusCounter
	Snapshots     SnapshotReader
	Archive       SnapshotFetcher
	Queue         Enqueuer
	PublicBaseURL string
	// Checks are probed by /health, keyed by dependency name.
	Checks  map[string]func(context.Context) error
	Version string
	Log     *zap.Logger
}

type Handlers struct {
	Deps
	log *zap.Logger
}

func New(d Deps) *Handlers {
	return &Handlers{Deps: d, log: d.Log.Named("api")}
}

// ── Error helpers ─────────────────────────────────────────────────────────────

type errResponse struct {
	Code    int                 `json:"code"`
	Message string              `json:"message"`
	Details map[string]string   `json:"details,omitempty"`
	Issues  []models.ChainIssue `json:"issues,omitempty"`
	ReqID   string              `json:"request_id,omitempty"`
}

// apiErr ends the request with an error body. The response is written by
// echo's error handler, so the returned value is always non-nil.
func apiErr(c echo.Context, code int, msg string) error {
	return httpErr(c, errResponse{Code: code, Message: msg})
}

func httpErr(c echo.Context, body errResponse) *echo.HTTPError {
	body.ReqID, _ = c.Get(middleware.ContextKeyRequestID).(string)
	return &echo.HTTPError{Code: body.Code, Message: body}
}

// fail maps service errors onto responses. Anything unclassified is logged
// and answered with an opaque 500.
func (h *Handlers) fail(c echo.Context, err error) error {
	var ve *models.ValidationError
	var nf *models.NotFoundError
	var iv *models.IntegrityViolation
	switch {
	case errors.As(err, &ve):
		resp := errResponse{Code: http.StatusBadRequest, Message: ve.Message}
		if ve.Field != "" {
			resp.Details = map[string]string{"field": ve.Field}
		}
		return httpErr(c, resp)
	case errors.As(err, &nf):
		return apiErr(c, http.StatusNotFound, nf.Error())
	case errors.Is(err, models.ErrNotFound):
		return apiErr(c, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrRetriesExhausted):
		return apiErr(c, http.StatusConflict, "document is being updated concurrently, retry later")
	case errors.Is(err, models.ErrConflict):
		return apiErr(c, http.StatusConflict, "version conflict")
	case errors.As(err, &iv):
		return httpErr(c, errResponse{Code: http.StatusConflict, Message: "integrity violation", Issues: iv.Issues})
	}

	reqID, _ := c.Get(middleware.ContextKeyRequestID).(string)
	h.log.Error("request failed",
		zap.String("path", c.Path()),
		zap.String("request_id", reqID),
		zap.Error(err),
	)
	return apiErr(c, http.StatusInternalServerError, "internal error")
}

// mustIdentity extracts the caller set by JWTAuth. A missing identity on a
// guarded route means the middleware was not installed.
func mustIdentity(c echo.Context) (auth.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return auth.Identity{}, apiErr(c, http.StatusInternalServerError, "auth context missing")
	}
	return id, nil
}

// ownedDocument loads a document the caller's org may read.
func (h *Handlers) ownedDocument(c echo.Context, id auth.Identity, docID string) (*models.Document, error) {
	doc, err := h.Versions.GetDocument(c.Request().Context(), docID)
	if err != nil {
		return nil, h.fail(c, err)
	}
	if !id.CanAccessOrg(doc.OrgID) {
		return nil, apiErr(c, http.StatusForbidden, "access denied")
	}
	return doc, nil
}

func queryInt(c echo.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.QueryParam(name)); err == nil {
		return v
	}
	return def
}

func pathInt(c echo.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n < 1 {
		return 0, apiErr(c, http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

// ── Health ────────────────────────────────────────────────────────────────────

type depStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status       string               `json:"status"`
	Version      string               `json:"version"`
	VersionsMode string               `json:"versions_mode"`
	Deps         map[string]depStatus `json:"deps"`
}

func (h *Handlers) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]depStatus, len(h.Checks))
	overall := "ok"
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			deps[name] = depStatus{Status: "error", Error: err.Error()}
			overall = "degraded"
			continue
		}
		deps[name] = depStatus{Status: "ok"}
	}

	status := http.StatusOK
	if overall != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, healthResponse{
		Status:       overall,
		Version:      h.Version,
		VersionsMode: h.Versions.Mode(),
		Deps:         deps,
	})
}
