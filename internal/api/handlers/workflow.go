package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/workflow"
)

type WorkflowRequest struct {
	DocumentID    string `json:"documentId"`
	VersionNumber int    `json:"versionNumber"`
	State         string `json:"state"`
	Reason        string `json:"reason"`
}

func (h *Handlers) SetWorkflowState(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	var req WorkflowRequest
	if err := c.Bind(&req); err != nil {
		return apiErr(c, http.StatusBadRequest, "invalid request body")
	}
	if _, err := h.ownedDocument(c, id, req.DocumentID); err != nil {
		return err
	}

	res, err := h.Workflow.SetStatus(c.Request().Context(), workflow.Transition{
		DocID:         req.DocumentID,
		VersionNumber: req.VersionNumber,
		Actor:         id.UserID,
		State:         req.State,
		Reason:        req.Reason,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) WorkflowHistory(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}
	history, err := h.Workflow.History(c.Request().Context(), doc.DocID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handlers) RevocationSummary(c echo.Context) error {
	id, err := mustIdentity(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, id, c.Param("doc_id"))
	if err != nil {
		return err
	}
	s, err := h.Workflow.RevocationSummary(c.Request().Context(), doc.DocID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, s)
}
