// Package verification decides whether a presented document instance matches
// a known version, and how far that version is trusted.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

type Outcome string

// Outcomes in classification priority order.
const (
	OutcomeDocNotFound     Outcome = "DOC_NOT_FOUND"
	OutcomeVersionNotFound Outcome = "VERSION_NOT_FOUND"
	OutcomeHashMismatch    Outcome = "HASH_MISMATCH"
	OutcomeValidRevoked    Outcome = "VALID_BUT_REVOKED"
	OutcomeValidActive     Outcome = "VALID_AND_ACTIVE"
	OutcomeValidPending    Outcome = "VALID_BUT_PENDING"
)

type Store interface {
	GetDocument(ctx context.Context, docID string) (*models.Document, error)
	GetVersion(ctx context.Context, docID string, n int) (*models.DocumentVersion, error)
	GetVersionByFingerprint(ctx context.Context, docID, fingerprint string) (*models.DocumentVersion, error)
	GetHashParts(ctx context.Context, docID string, n int) (*models.HashParts, error)
}

// StatsRecorder keeps one row per call plus the per-document aggregate.
type StatsRecorder interface {
	RecordVerification(ctx context.Context, res *models.VerificationResult) error
}

// Methods recorded with each result.
const (
	MethodHashes      = "HASHES"
	MethodFingerprint = "FINGERPRINT"
)

type Auditor interface {
	Record(ctx context.Context, e ledger.Entry)
}

type Request struct {
	DocID string
	// VersionNumber 0 compares against the latest version.
	VersionNumber int
	Hashes        models.HashParts
	Actor         string
	OrgID         string
}

type FingerprintRequest struct {
	DocID              string
	VersionFingerprint string
	Actor              string
	OrgID              string
}

// PartMatches compares submitted and stored hashes modality by modality.
// TamperScore weighs the mismatches: text 40, image 30, signature 15, stamp 15.
type PartMatches struct {
	Text        bool `json:"text"`
	Image       bool `json:"image"`
	Signature   bool `json:"signature"`
	Stamp       bool `json:"stamp"`
	TamperScore int  `json:"tamperScore"`
}

type Result struct {
	DocID                      string                `json:"docId"`
	Exists                     bool                  `json:"exists"`
	VersionFound               bool                  `json:"versionFound"`
	LatestVersion              int                   `json:"latestVersion,omitempty"`
	VersionNumber              int                   `json:"versionNumber,omitempty"`
	Outcome                    Outcome               `json:"outcome"`
	CryptographicallyAuthentic bool                  `json:"cryptographicallyAuthentic"`
	IsApprovedByAuthority      bool                  `json:"isApprovedByAuthority"`
	IsRevoked                  bool                  `json:"isRevoked"`
	WorkflowStatus             models.WorkflowStatus `json:"workflowStatus,omitempty"`
	RootFingerprint            string                `json:"rootFingerprint,omitempty"`
	VersionFingerprint         string                `json:"versionFingerprint,omitempty"`
	PartMatches                *PartMatches          `json:"partMatches,omitempty"`
}

type Engine struct {
	docs    Store
	stats   StatsRecorder
	audit   Auditor
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func New(docs Store, stats StatsRecorder, audit Auditor, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{docs: docs, stats: stats, audit: audit, metrics: m, log: log.Named("verification"), now: time.Now}
}

// VerifyByHashes recomputes the root fingerprint from raw hashes and compares
// it with the stored version.
func (e *Engine) VerifyByHashes(ctx context.Context, req Request) (*Result, error) {
	if req.DocID == "" {
		return nil, models.NewValidationError("docId", "is required")
	}
	if err := req.Hashes.Validate(); err != nil {
		return nil, err
	}
	root, err := worm.RootFingerprint(req.Hashes.Leaves())
	if err != nil {
		return nil, models.NewValidationError("hashes", err.Error())
	}

	res := &Result{DocID: req.DocID}
	doc, err := e.docs.GetDocument(ctx, req.DocID)
	if errors.Is(err, models.ErrNotFound) {
		res.Outcome = OutcomeDocNotFound
		e.metrics.Verification(string(res.Outcome))
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verification: load document: %w", err)
	}
	res.Exists = true
	res.LatestVersion = doc.CurrentVersion

	n := req.VersionNumber
	if n <= 0 {
		n = doc.CurrentVersion
	}
	v, err := e.docs.GetVersion(ctx, req.DocID, n)
	switch {
	case errors.Is(err, models.ErrNotFound):
		res.Outcome = OutcomeVersionNotFound
	case err != nil:
		return nil, fmt.Errorf("verification: load version: %w", err)
	default:
		res.VersionFound = true
		res.VersionNumber = v.VersionNumber
		res.RootFingerprint = v.RootFingerprint
		res.VersionFingerprint = v.VersionFingerprint
		res.CryptographicallyAuthentic = root == v.RootFingerprint
		applyStatus(res, v.Status)
		res.Outcome = classify(res.CryptographicallyAuthentic, v.Status)

		parts, err := e.docs.GetHashParts(ctx, req.DocID, v.VersionNumber)
		if err == nil {
			res.PartMatches = compareParts(req.Hashes, *parts)
		} else if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("verification: load hash parts: %w", err)
		}
	}

	e.finish(ctx, doc, req.Actor, req.OrgID, models.ActionCryptoCheck, MethodHashes, res)
	return res, nil
}

// VerifyByFingerprint looks a version up by its chained fingerprint, the QR flow.
func (e *Engine) VerifyByFingerprint(ctx context.Context, req FingerprintRequest) (*Result, error) {
	if req.DocID == "" {
		return nil, models.NewValidationError("docId", "is required")
	}
	if !worm.IsHexDigest(req.VersionFingerprint) {
		return nil, models.NewValidationError("versionFingerprint", "must be 64 lowercase hex characters")
	}

	res := &Result{DocID: req.DocID}
	doc, err := e.docs.GetDocument(ctx, req.DocID)
	if errors.Is(err, models.ErrNotFound) {
		res.Outcome = OutcomeDocNotFound
		e.metrics.Verification(string(res.Outcome))
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verification: load document: %w", err)
	}
	res.Exists = true
	res.LatestVersion = doc.CurrentVersion

	v, err := e.docs.GetVersionByFingerprint(ctx, req.DocID, req.VersionFingerprint)
	switch {
	case errors.Is(err, models.ErrNotFound):
		res.Outcome = OutcomeVersionNotFound
	case err != nil:
		return nil, fmt.Errorf("verification: load version: %w", err)
	default:
		res.VersionFound = true
		res.VersionNumber = v.VersionNumber
		res.RootFingerprint = v.RootFingerprint
		res.VersionFingerprint = v.VersionFingerprint
		res.CryptographicallyAuthentic = true
		applyStatus(res, v.Status)
		res.Outcome = classify(true, v.Status)
	}

	e.finish(ctx, doc, req.Actor, req.OrgID, models.ActionVerified, MethodFingerprint, res)
	return res, nil
}

// finish appends the audit entry and updates metrics and per-document stats.
// None of these can fail the verification.
func (e *Engine) finish(ctx context.Context, doc *models.Document, actor, orgID string, action models.AuditAction, method string, res *Result) {
	if orgID == "" {
		orgID = doc.OrgID
	}
	e.audit.Record(ctx, ledger.Entry{Actor: actor, OrgID: orgID, DocID: doc.DocID, Action: action})
	e.metrics.Verification(string(res.Outcome))
	if e.stats != nil {
		if err := e.stats.RecordVerification(ctx, e.resultRow(res, actor, orgID, method)); err != nil {
			e.log.Warn("verification result not recorded", zap.String("doc_id", doc.DocID), zap.Error(err))
		}
	}
	e.log.Debug("verification",
		zap.String("doc_id", doc.DocID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("action", string(action)),
	)
}

func (e *Engine) resultRow(res *Result, actor, orgID, method string) *models.VerificationResult {
	row := &models.VerificationResult{
		DocID:     res.DocID,
		Actor:     actor,
		OrgID:     orgID,
		Method:    method,
		Outcome:   string(res.Outcome),
		CreatedAt: e.now().UTC(),
	}
	if res.VersionFound {
		n := res.VersionNumber
		row.VersionNumber = &n
	}
	if p := res.PartMatches; p != nil {
		text, image, sig, stamp, score := p.Text, p.Image, p.Signature, p.Stamp, p.TamperScore
		row.TextMatch, row.ImageMatch, row.SignatureMatch, row.StampMatch = &text, &image, &sig, &stamp
		row.TamperScore = &score
	}
	return row
}

func applyStatus(res *Result, st models.WorkflowStatus) {
	res.WorkflowStatus = st
	res.IsApprovedByAuthority = st == models.StatusApproved
	res.IsRevoked = st == models.StatusRevoked
}

func classify(matched bool, st models.WorkflowStatus) Outcome {
	switch {
	case !matched:
		return OutcomeHashMismatch
	case st == models.StatusRevoked:
		return OutcomeValidRevoked
	case st == models.StatusApproved:
		return OutcomeValidActive
	default:
		return OutcomeValidPending
	}
}

func compareParts(submitted, stored models.HashParts) *PartMatches {
	m := &PartMatches{
		Text:      submitted.TextHash == stored.TextHash,
		Image:     submitted.ImageHash == stored.ImageHash,
		Signature: submitted.SignatureHash == stored.SignatureHash,
		Stamp:     submitted.StampHash == stored.StampHash,
	}
	for _, p := range []struct {
		ok     bool
		weight int
	}{{m.Text, 40}, {m.Image, 30}, {m.Signature, 15}, {m.Stamp, 15}} {
		if !p.ok {
			m.TamperScore += p.weight
		}
	}
	return m
}
