package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/handlers"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/middleware"
)

// Register mounts every endpoint. rps limits each caller; the burst is twice
// that.
func Register(e *echo.Echo, h *handlers.Handlers, jwtSecret string, rps float64, gatherer prometheus.Gatherer) {
	limit := middleware.RateLimit(rps, int(2*rps))

	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Unauthenticated target of printed QR codes.
	pub := e.Group("/public", limit)
	pub.GET("/verify", h.PublicVerify)

	api := e.Group("/api/v1", middleware.JWTAuth(jwtSecret), limit)

	api.POST("/documents", h.Upload)
	api.GET("/documents/:doc_id", h.GetDocument)
	api.GET("/documents/:doc_id/versions", h.ListVersions)
	api.GET("/documents/:doc_id/versions/:n", h.GetVersion)
	api.GET("/documents/:doc_id/chain/verify", h.VerifyVersionChain)
	api.GET("/documents/:doc_id/stats", h.VerificationStats)
	api.GET("/documents/:doc_id/verifications", h.VerificationHistory)
	api.GET("/documents/:doc_id/qr", h.QRPayload)
	api.GET("/documents/:doc_id/workflow", h.WorkflowHistory)
	api.GET("/documents/:doc_id/revocations", h.RevocationSummary)

	api.POST("/verify", h.VerifyHashes)
	api.POST("/verify/qr", h.VerifyQR)

	api.POST("/workflow", h.SetWorkflowState)

	api.GET("/audit/document/:doc_id", h.AuditByDocument)
	api.GET("/audit/org/:org_id", h.AuditByOrg)
	api.GET("/audit/verify/:org_id/:doc_id", h.VerifyAuditChain)
	api.POST("/audit/verify/:org_id/:doc_id/async", h.EnqueueAuditVerify)
	api.GET("/audit/snapshots/:org_id/:doc_id", h.LatestSnapshot)
	api.GET("/audit/snapshots/:org_id/:doc_id/download", h.DownloadSnapshot)

	api.GET("/stats/versions", h.StatusCounts)
}
