package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/auth"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/qr"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/verification"
)

type VerifyRequest struct {
	DocID         string           `json:"docId"`
	VersionNumber int              `json:"versionNumber"`
	Hashes        models.HashParts `json:"hashes"`
}

// VerifyHashes checks submitted raw hashes against a stored version.
func (h *Handlers) VerifyHashes(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return apiErr(c, http.StatusBadRequest, "invalid request body")
	}

	res, err := h.Verifier.VerifyByHashes(c.Request().Context(), verification.Request{
		DocID:         req.DocID,
		VersionNumber: req.VersionNumber,
		Hashes:        req.Hashes,
		Actor:         id.UserID,
		OrgID:         id.OrgID,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// VerifyQRRequest carries either a scanned payload or its two parts.
type VerifyQRRequest struct {
	Payload            string `json:"payload"`
	DocID              string `json:"docId"`
	VersionFingerprint string `json:"versionFingerprint"`
}

func (h *Handlers) VerifyQR(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	var req VerifyQRRequest
	if err := c.Bind(&req); err != nil {
		return apiErr(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Payload != "" {
		p, err := qr.Parse(req.Payload)
		if err != nil {
			return h.fail(c, err)
		}
		req.DocID, req.VersionFingerprint = p.DocID, p.VersionFingerprint
	}
	return h.verifyFingerprint(c, verification.FingerprintRequest{
		DocID:              req.DocID,
		VersionFingerprint: req.VersionFingerprint,
		Actor:              id.UserID,
		OrgID:              id.OrgID,
	})
}

// PublicVerify is the unauthenticated target of the printed QR link.
func (h *Handlers) PublicVerify(c echo.Context) error {
	return h.verifyFingerprint(c, verification.FingerprintRequest{
		DocID:              c.QueryParam("docId"),
		VersionFingerprint: c.QueryParam("versionHash"),
		Actor:              auth.ActorPublic,
	})
}

func (h *Handlers) verifyFingerprint(c echo.Context, req verification.FingerprintRequest) error {
	res, err := h.Verifier.VerifyByFingerprint(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
