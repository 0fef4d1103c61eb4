// Package workflow moves document versions between PENDING, APPROVED and
// REVOKED and keeps the history of every move.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
)

const defaultRevocationReason = "No reason provided"

type DocumentReader interface {
	GetDocument(ctx context.Context, docID string) (*models.Document, error)
	GetVersion(ctx context.Context, docID string, n int) (*models.DocumentVersion, error)
	ListVersions(ctx context.Context, docID string) ([]*models.DocumentVersion, error)
}

// TransitionStore persists a version's new workflow fields together with its
// history row.
type TransitionStore interface {
	ApplyTransition(ctx context.Context, v *models.DocumentVersion, t *models.WorkflowTransition) error
	ListTransitions(ctx context.Context, docID string) ([]*models.WorkflowTransition, error)
}

type Auditor interface {
	Record(ctx context.Context, e ledger.Entry)
}

type Transition struct {
	DocID string
	// VersionNumber 0 targets the document's current version.
	VersionNumber int
	Actor         string
	State         string
	Reason        string
}

type Result struct {
	DocumentID      string                `json:"documentId"`
	VersionNumber   int                   `json:"versionNumber"`
	NewState        models.WorkflowStatus `json:"newState"`
	WorkflowEntryID int64                 `json:"workflowEntryId"`
}

type Machine struct {
	docs        DocumentReader
	transitions TransitionStore
	audit       Auditor
	policy      Policy
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

// New builds a Machine. A nil policy allows every transition.
func New(docs DocumentReader, transitions TransitionStore, audit Auditor, policy Policy, m *metrics.Metrics, log *zap.Logger) *Machine {
	if policy == nil {
		policy = OpenPolicy{}
	}
	return &Machine{
		docs:        docs,
		transitions: transitions,
		audit:       audit,
		policy:      policy,
		metrics:     m,
		log:         log.Named("workflow"),
		now:         time.Now,
	}
}

// SetStatus applies one transition, records it and appends the matching
// audit entry.
func (m *Machine) SetStatus(ctx context.Context, t Transition) (*Result, error) {
	to, err := models.ParseWorkflowStatus(t.State)
	if err != nil {
		return nil, err
	}
	if t.Actor == "" {
		return nil, models.NewValidationError("actor", "is required")
	}

	doc, err := m.docs.GetDocument(ctx, t.DocID)
	if err != nil {
		return nil, err
	}
	n := t.VersionNumber
	if n <= 0 {
		n = doc.CurrentVersion
	}
	v, err := m.docs.GetVersion(ctx, t.DocID, n)
	if err != nil {
		return nil, err
	}

	from := v.Status
	if err := m.policy.Allow(from, to); err != nil {
		return nil, err
	}

	v.Status = to
	reason := t.Reason
	switch {
	case to == models.StatusRevoked:
		if reason == "" {
			reason = defaultRevocationReason
		}
		at := m.now().UTC()
		actor := t.Actor
		v.RevokedAt, v.RevokedBy, v.RevocationReason = &at, &actor, &reason
	case from == models.StatusRevoked:
		v.RevokedAt, v.RevokedBy, v.RevocationReason = nil, nil, nil
	}

	rec := &models.WorkflowTransition{
		DocID:         v.DocID,
		VersionNumber: v.VersionNumber,
		Status:        to,
		ChangedBy:     t.Actor,
		Reason:        reason,
	}
	if err := m.transitions.ApplyTransition(ctx, v, rec); err != nil {
		return nil, fmt.Errorf("workflow: apply %s->%s: %w", from, to, err)
	}

	m.metrics.WorkflowTransition(string(to))
	m.log.Info("workflow transition",
		zap.String("doc_id", v.DocID),
		zap.Int("version", v.VersionNumber),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", t.Actor),
	)
	m.audit.Record(ctx, ledger.Entry{Actor: t.Actor, OrgID: doc.OrgID, DocID: v.DocID, Action: models.ActionFor(to)})

	return &Result{DocumentID: v.DocID, VersionNumber: v.VersionNumber, NewState: to, WorkflowEntryID: rec.ID}, nil
}

// History returns a document's transitions newest first.
func (m *Machine) History(ctx context.Context, docID string) ([]*models.WorkflowTransition, error) {
	if _, err := m.docs.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	return m.transitions.ListTransitions(ctx, docID)
}

type RevocationSummary struct {
	DocID           string                    `json:"docId"`
	RevokedCount    int                       `json:"revokedCount"`
	RevokedVersions []*models.DocumentVersion `json:"revokedVersions"`
	LatestVersion   *models.DocumentVersion   `json:"latestVersion"`
}

// RevocationSummary lists a document's revoked versions, newest first.
func (m *Machine) RevocationSummary(ctx context.Context, docID string) (*RevocationSummary, error) {
	if _, err := m.docs.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	list, err := m.docs.ListVersions(ctx, docID)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].VersionNumber > list[j].VersionNumber })

	s := &RevocationSummary{DocID: docID, RevokedVersions: []*models.DocumentVersion{}}
	if len(list) > 0 {
		s.LatestVersion = list[0]
	}
	for _, v := range list {
		if v.Status == models.StatusRevoked {
			s.RevokedVersions = append(s.RevokedVersions, v)
		}
	}
	s.RevokedCount = len(s.RevokedVersions)
	return s, nil
}
