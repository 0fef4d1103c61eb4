package handlers

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/qr"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/versions"
)

type UploadRequest struct {
	DocID    string              `json:"docId"`
	Type     models.DocumentType `json:"type"`
	Metadata map[string]any      `json:"metadata"`
	Hashes   models.HashParts    `json:"hashes"`
}

// Upload appends a new version for the caller's org.
func (h *Handlers) Upload(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}

	var req UploadRequest
	if err := c.Bind(&req); err != nil {
		return apiErr(c, http.StatusBadRequest, "invalid request body")
	}

	res, err := h.Versions.CreateVersion(c.Request().Context(), versions.CreateRequest{
		DocID:    req.DocID,
		OrgID:    id.OrgID,
		Actor:    id.UserID,
		Type:     req.Type,
		Metadata: req.Metadata,
		Hashes:   req.Hashes,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handlers) GetDocument(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handlers) ListVersions(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}
	list, err := h.Versions.ListVersions(c.Request().Context(), doc.DocID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

type versionResponse struct {
	*models.DocumentVersion
	Hashes *models.HashParts `json:"hashes,omitempty"`
}

func (h *Handlers) GetVersion(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	n, err := pathInt(c, "n")
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	v, err := h.Versions.GetVersion(ctx, doc.DocID, n)
	if err != nil {
		return h.fail(c, err)
	}
	resp := versionResponse{DocumentVersion: v}
	if parts, err := h.Versions.GetHashParts(ctx, doc.DocID, n); err == nil {
		resp.Hashes = parts
	}
	return c.JSON(http.StatusOK, resp)
}

// VerifyVersionChain recomputes the document's version fingerprints.
func (h *Handlers) VerifyVersionChain(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}
	report, err := h.Versions.VerifyVersionChain(c.Request().Context(), doc.DocID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

type qrResponse struct {
	qr.Payload
	VerifyURL string `json:"verifyUrl"`
}

// QRPayload returns the payload to print on the document's latest version.
func (h *Handlers) QRPayload(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}
	p, err := qr.ForLatest(c.Request().Context(), h.Versions, doc.DocID)
	if err != nil {
		return h.fail(c, err)
	}
	q := url.Values{"docId": {p.DocID}, "versionHash": {p.VersionFingerprint}}
	return c.JSON(http.StatusOK, qrResponse{
		Payload:   p,
		VerifyURL: h.PublicBaseURL + "/public/verify?" + q.Encode(),
	})
}

func (h *Handlers) VerificationStats(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}
	stat, err := h.Stats.GetVerificationStat(c.Request().Context(), doc.DocID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, stat)
}

// VerificationHistory lists the document's verification calls, newest first.
func (h *Handlers) VerificationHistory(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}
	limit := queryInt(c, "limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	rows, err := h.Stats.ListVerificationResults(c.Request().Context(), doc.DocID, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// StatusCounts reports versions per workflow status across all orgs.
func (h *Handlers) StatusCounts(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	if !id.IsSuperAdmin() {
		return apiErr(c, http.StatusForbidden, "access denied")
	}
	counts, err := h.Counts.CountByStatus(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}
