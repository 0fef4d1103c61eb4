// Package versions owns the per-document version sequence: numbering, root
// fingerprints, chaining to the previous version and the atomic commit of a
// version with its hash parts.
package versions

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

type Store interface {
	Capabilities(ctx context.Context) (models.StoreCapabilities, error)
	GetDocument(ctx context.Context, docID string) (*models.Document, error)
	GetVersion(ctx context.Context, docID string, n int) (*models.DocumentVersion, error)
	GetHashParts(ctx context.Context, docID string, n int) (*models.HashParts, error)
	ListVersions(ctx context.Context, docID string) ([]*models.DocumentVersion, error)
	AppendLocked(ctx context.Context, docID string, build models.VersionBuildFunc) (*models.VersionCommit, error)
	CompareAndAppend(ctx context.Context, expected int, c *models.VersionCommit) error
	AppendUnchecked(ctx context.Context, c *models.VersionCommit) error
}

// Auditor receives the UPLOAD entry of every committed version.
type Auditor interface {
	Record(ctx context.Context, e ledger.Entry)
}

var docIDPattern = regexp.MustCompile(`^[A-Z0-9_-]{3,150}$`)

type CreateRequest struct {
	DocID    string
	OrgID    string
	Actor    string
	Type     models.DocumentType
	Metadata map[string]any
	Hashes   models.HashParts
}

func (r CreateRequest) Validate() error {
	if !docIDPattern.MatchString(r.DocID) {
		return models.NewValidationError("docId", "must be 3-150 characters of A-Z, 0-9, '_' or '-'")
	}
	if r.OrgID == "" {
		return models.NewValidationError("orgId", "is required")
	}
	if r.Actor == "" {
		return models.NewValidationError("actor", "is required")
	}
	if !r.Type.Valid() {
		return models.NewValidationError("type", "invalid document type")
	}
	return r.Hashes.Validate()
}

type CreateResult struct {
	DocID                  string                `json:"docId"`
	VersionNumber          int                   `json:"versionNumber"`
	RootFingerprint        string                `json:"rootFingerprint"`
	PrevVersionFingerprint *string               `json:"prevVersionFingerprint"`
	VersionFingerprint     string                `json:"versionFingerprint"`
	Status                 models.WorkflowStatus `json:"workflowStatus"`
}

type Service struct {
	store         Store
	strategy      Strategy
	audit         Auditor
	initialStatus models.WorkflowStatus
	metrics       *metrics.Metrics
	log           *zap.Logger
}

// NewService wires a version service. initialStatus is the status of every
// new version; it defaults to APPROVED.
func NewService(store Store, strategy Strategy, audit Auditor, initialStatus models.WorkflowStatus, m *metrics.Metrics, log *zap.Logger) *Service {
	if initialStatus == "" {
		initialStatus = models.StatusApproved
	}
	return &Service{
		store:         store,
		strategy:      strategy,
		audit:         audit,
		initialStatus: initialStatus,
		metrics:       m,
		log:           log.Named("versions"),
	}
}

func (s *Service) Mode() string { return s.strategy.Name() }

// CreateVersion validates req and appends the next version of req.DocID.
func (s *Service) CreateVersion(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	root, err := worm.RootFingerprint(req.Hashes.Leaves())
	if err != nil {
		return nil, models.NewValidationError("hashes", err.Error())
	}

	commit, err := s.strategy.Append(ctx, req.DocID, func(doc *models.Document, prev *models.DocumentVersion) (*models.VersionCommit, error) {
		return s.build(req, root, doc, prev)
	})
	if err != nil {
		return nil, fmt.Errorf("versions: create %s: %w", req.DocID, err)
	}

	v := commit.Version
	s.metrics.Upload(s.strategy.Name())
	s.log.Info("version created",
		zap.String("doc_id", v.DocID),
		zap.Int("version", v.VersionNumber),
		zap.String("fingerprint", v.VersionFingerprint),
		zap.String("mode", s.strategy.Name()),
	)
	s.audit.Record(ctx, ledger.Entry{Actor: req.Actor, OrgID: commit.Document.OrgID, DocID: v.DocID, Action: models.ActionUpload})

	return &CreateResult{
		DocID:                  v.DocID,
		VersionNumber:          v.VersionNumber,
		RootFingerprint:        v.RootFingerprint,
		PrevVersionFingerprint: v.PrevVersionFingerprint,
		VersionFingerprint:     v.VersionFingerprint,
		Status:                 v.Status,
	}, nil
}

// build derives the commit for the version after prev. It has no side effects so a
// strategy can call it again after a lost race.
func (s *Service) build(req CreateRequest, root string, doc *models.Document, prev *models.DocumentVersion) (*models.VersionCommit, error) {
	created := doc == nil
	var next *models.Document
	if created {
		next = &models.Document{
			DocID:     req.DocID,
			OrgID:     req.OrgID,
			Type:      req.Type,
			Metadata:  req.Metadata,
			CreatedBy: req.Actor,
		}
	} else {
		if doc.OrgID != req.OrgID {
			return nil, models.NewValidationError("docId", "document belongs to another organization")
		}
		cp := *doc
		next = &cp
		next.VersionFingerprints = append([]string(nil), doc.VersionFingerprints...)
	}

	var prevFP *string
	if prev != nil {
		fp := prev.VersionFingerprint
		prevFP = &fp
	}
	number := next.CurrentVersion + 1
	fingerprint := worm.VersionFingerprint(derefOr(prevFP), root)

	next.CurrentVersion = number
	next.VersionFingerprints = append(next.VersionFingerprints, fingerprint)

	parts := req.Hashes
	parts.DocID, parts.VersionNumber = req.DocID, number
	return &models.VersionCommit{
		Document: next,
		Version: &models.DocumentVersion{
			DocID:                  req.DocID,
			VersionNumber:          number,
			RootFingerprint:        root,
			PrevVersionFingerprint: prevFP,
			VersionFingerprint:     fingerprint,
			Status:                 s.initialStatus,
			CreatedBy:              req.Actor,
			CreatedAt:              time.Now().UTC(),
		},
		Parts:   &parts,
		Created: created,
	}, nil
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ── reads ─────────────────────────────────────────────────────────────────────

func (s *Service) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	return s.store.GetDocument(ctx, docID)
}

// GetVersion returns version n of a document; n <= 0 selects the latest.
func (s *Service) GetVersion(ctx context.Context, docID string, n int) (*models.DocumentVersion, error) {
	if n <= 0 {
		doc, err := s.store.GetDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		n = doc.CurrentVersion
	}
	return s.store.GetVersion(ctx, docID, n)
}

func (s *Service) GetHashParts(ctx context.Context, docID string, n int) (*models.HashParts, error) {
	return s.store.GetHashParts(ctx, docID, n)
}

// ListVersions returns every version oldest first.
func (s *Service) ListVersions(ctx context.Context, docID string) ([]*models.DocumentVersion, error) {
	if _, err := s.store.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, docID)
}
