package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

type WorkflowStatus string

const (
	StatusPending  WorkflowStatus = "PENDING"
	StatusApproved WorkflowStatus = "APPROVED"
	StatusRevoked  WorkflowStatus = "REVOKED"
)

// ParseWorkflowStatus accepts the canonical upper-case names only.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	switch st := WorkflowStatus(s); st {
	case StatusPending, StatusApproved, StatusRevoked:
		return st, nil
	}
	return "", NewValidationError("state", "must be one of APPROVED, PENDING, REVOKED")
}

type AuditAction string

const (
	ActionUpload      AuditAction = "UPLOAD"
	ActionApprove     AuditAction = "APPROVE"
	ActionRevoke      AuditAction = "REVOKE"
	ActionCryptoCheck AuditAction = "CRYPTO_CHECK"
	ActionVerified    AuditAction = "VERIFIED"
)

// ActionFor maps a workflow target state onto the audit action recorded for it.
func ActionFor(s WorkflowStatus) AuditAction {
	switch s {
	case StatusApproved:
		return ActionApprove
	case StatusRevoked:
		return ActionRevoke
	default:
		return ActionUpload
	}
}

type DocumentType string

var documentTypes = map[DocumentType]struct{}{
	"transcript": {}, "certificate": {}, "letter": {}, "license": {}, "diploma": {},
	"permit": {}, "contract": {}, "invoice": {}, "other": {},
}

func (t DocumentType) Valid() bool {
	_, ok := documentTypes[t]
	return ok
}

// Document is the identity root of a version sequence.
type Document struct {
	DocID               string         `db:"doc_id"               json:"doc_id"`
	OrgID               string         `db:"org_id"               json:"org_id"`
	Type                DocumentType   `db:"type"                 json:"type"`
	Metadata            map[string]any `db:"metadata"             json:"metadata,omitempty"`
	CurrentVersion      int            `db:"current_version"      json:"current_version"`
	VersionFingerprints []string       `db:"version_fingerprints" json:"version_fingerprints"`
	CreatedBy           string         `db:"created_by"           json:"created_by"`
	CreatedAt           time.Time      `db:"created_at"           json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"           json:"updated_at"`
}

// DocumentVersion is one upload of a document. Only the workflow fields change
// after creation.
type DocumentVersion struct {
	DocID                  string         `db:"doc_id"                   json:"doc_id"`
	VersionNumber          int            `db:"version_number"           json:"version_number"`
	RootFingerprint        string         `db:"root_fingerprint"         json:"root_fingerprint"`
	PrevVersionFingerprint *string        `db:"prev_version_fingerprint" json:"prev_version_fingerprint"`
	VersionFingerprint     string         `db:"version_fingerprint"      json:"version_fingerprint"`
	Status                 WorkflowStatus `db:"workflow_status"          json:"workflow_status"`
	CreatedBy              string         `db:"created_by"               json:"created_by"`
	CreatedAt              time.Time      `db:"created_at"               json:"created_at"`
	RevokedAt              *time.Time     `db:"revoked_at"               json:"revoked_at,omitempty"`
	RevokedBy              *string        `db:"revoked_by"               json:"revoked_by,omitempty"`
	RevocationReason       *string        `db:"revocation_reason"        json:"revocation_reason,omitempty"`
}

// PrevFingerprint returns the predecessor fingerprint or "" for version 1.
func (v *DocumentVersion) PrevFingerprint() string {
	if v.PrevVersionFingerprint == nil {
		return ""
	}
	return *v.PrevVersionFingerprint
}

// HashParts are the raw per-modality digests of one version. An empty field
// means the modality was not supplied.
type HashParts struct {
	DocID         string `db:"doc_id"         json:"-"`
	VersionNumber int    `db:"version_number" json:"-"`
	TextHash      string `db:"text_hash"      json:"textHash,omitempty"`
	ImageHash     string `db:"image_hash"     json:"imageHash,omitempty"`
	SignatureHash string `db:"signature_hash" json:"signatureHash,omitempty"`
	StampHash     string `db:"stamp_hash"     json:"stampHash,omitempty"`
}

func (h HashParts) Leaves() worm.Leaves {
	return worm.Leaves{Text: h.TextHash, Image: h.ImageHash, Signature: h.SignatureHash, Stamp: h.StampHash}
}

// Validate enforces the upload shape: text or image present, every present
// hash a lowercase 64-char hex digest.
func (h HashParts) Validate() error {
	if h.TextHash == "" && h.ImageHash == "" {
		return NewValidationError("hashes", "at least one hash (textHash or imageHash) is required")
	}
	for field, v := range map[string]string{
		"hashes.textHash":      h.TextHash,
		"hashes.imageHash":     h.ImageHash,
		"hashes.signatureHash": h.SignatureHash,
		"hashes.stampHash":     h.StampHash,
	} {
		if v != "" && !worm.IsHexDigest(v) {
			return NewValidationError(field, "must be a valid SHA-256 hash (64 lowercase hex characters)")
		}
	}
	return nil
}

// AuditLogEntry is one link of a (org, doc) scoped hash chain.
type AuditLogEntry struct {
	ID            int64       `db:"id"              json:"id"`
	Actor         string      `db:"actor"           json:"actor"`
	OrgID         string      `db:"org_id"          json:"org_id"`
	DocID         string      `db:"doc_id"          json:"doc_id"`
	Action        AuditAction `db:"action"          json:"action"`
	AuditHash     string      `db:"audit_hash"      json:"audit_hash"`
	PrevAuditHash *string     `db:"prev_audit_hash" json:"prev_audit_hash"`
	CreatedAt     time.Time   `db:"created_at"      json:"timestamp"`
}

func (e *AuditLogEntry) Prev() string {
	if e.PrevAuditHash == nil {
		return ""
	}
	return *e.PrevAuditHash
}

// FingerprintInput rebuilds the hash input from the stored fields.
func (e *AuditLogEntry) FingerprintInput() worm.AuditInput {
	return worm.AuditInput{
		Actor:     e.Actor,
		OrgID:     e.OrgID,
		DocID:     e.DocID,
		Action:    string(e.Action),
		Timestamp: worm.FormatTimestamp(e.CreatedAt),
		Prev:      e.Prev(),
	}
}

// WorkflowTransition is the durable history row of one status change.
type WorkflowTransition struct {
	ID            int64          `db:"id"             json:"id"`
	DocID         string         `db:"doc_id"         json:"doc_id"`
	VersionNumber int            `db:"version_number" json:"version_number"`
	Status        WorkflowStatus `db:"status"         json:"state"`
	ChangedBy     string         `db:"changed_by"     json:"actor"`
	Reason        string         `db:"reason"         json:"reason,omitempty"`
	ChangedAt     time.Time      `db:"changed_at"     json:"timestamp"`
}

// VerificationStat aggregates verification calls per document. The tamper
// average covers only hash-based checks, which are the ones that score.
type VerificationStat struct {
	DocID               string     `db:"doc_id"               json:"doc_id"`
	TotalVerifications  int64      `db:"total_verifications"  json:"total_verifications"`
	ScoredVerifications int64      `db:"scored_verifications" json:"scored_verifications"`
	AvgTamperScore      float64    `db:"avg_tamper_score"     json:"avg_tamper_score"`
	LastOutcome         string     `db:"last_outcome"         json:"last_outcome"`
	LastVerifiedAt      *time.Time `db:"last_verified_at"     json:"last_verified_at,omitempty"`
}

// Add folds one result into the aggregate.
func (s *VerificationStat) Add(r *VerificationResult) {
	s.TotalVerifications++
	s.LastOutcome = r.Outcome
	at := r.CreatedAt
	s.LastVerifiedAt = &at
	if r.TamperScore == nil {
		return
	}
	s.AvgTamperScore = (s.AvgTamperScore*float64(s.ScoredVerifications) + float64(*r.TamperScore)) /
		float64(s.ScoredVerifications+1)
	s.ScoredVerifications++
}

// VerificationResult is one verification call. Part matches and the tamper
// score are nil for fingerprint lookups and for versions that were not found.
type VerificationResult struct {
	ID             int64     `db:"id"              json:"id"`
	DocID          string    `db:"doc_id"          json:"doc_id"`
	VersionNumber  *int      `db:"version_number"  json:"version_number,omitempty"`
	Actor          string    `db:"actor"           json:"actor"`
	OrgID          string    `db:"org_id"          json:"org_id"`
	Method         string    `db:"method"          json:"method"`
	Outcome        string    `db:"outcome"         json:"outcome"`
	TextMatch      *bool     `db:"text_match"      json:"text_match,omitempty"`
	ImageMatch     *bool     `db:"image_match"     json:"image_match,omitempty"`
	SignatureMatch *bool     `db:"signature_match" json:"signature_match,omitempty"`
	StampMatch     *bool     `db:"stamp_match"     json:"stamp_match,omitempty"`
	TamperScore    *int      `db:"tamper_score"    json:"tamper_score,omitempty"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}

// LedgerSnapshot records a verified ledger scope archived to object storage.
type LedgerSnapshot struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	OrgID      string    `db:"org_id"      json:"org_id"`
	DocID      string    `db:"doc_id"      json:"doc_id"`
	S3Key      string    `db:"s3_key"      json:"s3_key"`
	Provider   string    `db:"provider"    json:"provider"`
	SHA256     string    `db:"sha256"      json:"sha256"`
	EntryCount int       `db:"entry_count" json:"entry_count"`
	HeadHash   string    `db:"head_hash"   json:"head_hash"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

// Scope identifies one audit chain.
type Scope struct {
	OrgID string `json:"org_id"`
	DocID string `json:"doc_id"`
}

// ChainIssue describes one mismatch found while recomputing a chain.
type ChainIssue struct {
	LogID    int64  `json:"logId"`
	Message  string `json:"message"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// StatusCounts is the number of versions per workflow status.
type StatusCounts map[WorkflowStatus]int64
