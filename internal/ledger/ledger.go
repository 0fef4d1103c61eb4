// Package ledger is the append-only audit chain. Entries are hash-linked per
// (org, doc) scope and bound to a process-wide secret, so any later edit of a
// stored entry is detectable by VerifyChain.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/notifications"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

// Store persists audit entries. AppendAudit must run build and the insert
// without another writer of the same scope interleaving.
type Store interface {
	AppendAudit(ctx context.Context, scope models.Scope, build models.AuditBuildFunc) (*models.AuditLogEntry, error)
	ListScope(ctx context.Context, scope models.Scope) ([]*models.AuditLogEntry, error)
	ListAuditByDocument(ctx context.Context, docID string, limit int) ([]*models.AuditLogEntry, error)
	ListAuditByOrg(ctx context.Context, orgID string, limit, offset int) ([]*models.AuditLogEntry, error)
	ScopesSince(ctx context.Context, since time.Time) ([]models.Scope, error)
}

// Entry is what callers supply; the ledger fills in timestamp and hashes.
type Entry struct {
	Actor  string
	OrgID  string
	DocID  string
	Action models.AuditAction
}

func (e Entry) scope() models.Scope { return models.Scope{OrgID: e.OrgID, DocID: e.DocID} }

// ChainReport is the result of recomputing one scope.
type ChainReport struct {
	OrgID        string              `json:"orgId"`
	DocID        string              `json:"docId"`
	Valid        bool                `json:"isValid"`
	TotalEntries int                 `json:"totalLogs"`
	Issues       []models.ChainIssue `json:"issues"`
}

// Violation converts an invalid report into the error surfaced to callers.
func (r *ChainReport) Violation() error {
	if r.Valid {
		return nil
	}
	return &models.IntegrityViolation{Scope: r.OrgID + "/" + r.DocID, Issues: r.Issues}
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	notifyTimeout    = 10 * time.Second
)

type Ledger struct {
	store    Store
	secret   string
	notifier notifications.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	locks    *scopeLocks
	notifyWG sync.WaitGroup

	now func() time.Time
}

// New builds a Ledger. secret binds every fingerprint and must not be empty.
func New(store Store, secret string, notifier notifications.Notifier, m *metrics.Metrics, log *zap.Logger) (*Ledger, error) {
	if secret == "" {
		return nil, errors.New("ledger: secret must not be empty")
	}
	if notifier == nil {
		notifier = notifications.NewLogNotifier(log)
	}
	return &Ledger{
		store:    store,
		secret:   secret,
		notifier: notifier,
		metrics:  m,
		log:      log.Named("ledger"),
		locks:    newScopeLocks(),
		now:      time.Now,
	}, nil
}

// Append chains a new entry onto its scope and returns it.
func (l *Ledger) Append(ctx context.Context, in Entry) (*models.AuditLogEntry, error) {
	if in.OrgID == "" || in.DocID == "" {
		return nil, models.NewValidationError("scope", "org and doc are required")
	}
	if in.Action == "" {
		return nil, models.NewValidationError("action", "is required")
	}

	unlock := l.locks.lock(in.scope())
	defer unlock()

	entry, err := l.store.AppendAudit(ctx, in.scope(), func(prev *models.AuditLogEntry) (*models.AuditLogEntry, error) {
		return l.next(in, prev), nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: append: %w", err)
	}
	l.metrics.LedgerAppend(string(in.Action))
	return entry, nil
}

// next builds the entry following prev. Timestamps are millisecond precision
// and strictly increase within a scope.
func (l *Ledger) next(in Entry, prev *models.AuditLogEntry) *models.AuditLogEntry {
	ts := l.now().UTC().Truncate(time.Millisecond)
	e := &models.AuditLogEntry{
		Actor:  in.Actor,
		OrgID:  in.OrgID,
		DocID:  in.DocID,
		Action: in.Action,
	}
	if prev != nil {
		if last := prev.CreatedAt.UTC().Truncate(time.Millisecond); !ts.After(last) {
			ts = last.Add(time.Millisecond)
		}
		h := prev.AuditHash
		e.PrevAuditHash = &h
	}
	e.CreatedAt = ts
	e.AuditHash = worm.AuditFingerprint(e.FingerprintInput(), l.secret)
	return e
}

// Record is Append for primary operations: a failure is logged, counted and
// sent to the notifier, never returned.
func (l *Ledger) Record(ctx context.Context, in Entry) {
	if _, err := l.Append(ctx, in); err != nil {
		l.reportFailure(&models.LedgerWriteFailure{Scope: in.scope(), Action: in.Action, Err: err})
	}
}

func (l *Ledger) reportFailure(f *models.LedgerWriteFailure) {
	l.metrics.LedgerWriteFailure()
	l.log.Error("audit append failed; chain has a gap",
		zap.String("org_id", f.Scope.OrgID),
		zap.String("doc_id", f.Scope.DocID),
		zap.String("action", string(f.Action)),
		zap.Error(f.Err),
	)
	l.notifyWG.Add(1)
	go func() {
		defer l.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		scope := f.Scope.OrgID + "/" + f.Scope.DocID
		if err := l.notifier.SendAlert(ctx, scope, notifications.SeverityWarning, f.Error()); err != nil {
			l.log.Warn("ledger failure notification not delivered", zap.Error(err))
		}
	}()
}

// Flush waits for pending failure notifications.
func (l *Ledger) Flush() {
	l.notifyWG.Wait()
}

// VerifyChain recomputes every link of a scope. It never writes.
func (l *Ledger) VerifyChain(ctx context.Context, orgID, docID string) (*ChainReport, error) {
	entries, err := l.store.ListScope(ctx, models.Scope{OrgID: orgID, DocID: docID})
	if err != nil {
		return nil, fmt.Errorf("ledger: verify chain: %w", err)
	}
	report := Check(entries, l.secret)
	report.OrgID, report.DocID = orgID, docID
	l.metrics.ChainVerified("ledger", report.Valid)
	return report, nil
}

// Check is the pure recomputation behind VerifyChain. entries must be in
// chain order.
func Check(entries []*models.AuditLogEntry, secret string) *ChainReport {
	report := &ChainReport{Valid: true, TotalEntries: len(entries), Issues: []models.ChainIssue{}}
	expectedPrev := ""
	for _, e := range entries {
		if actual := e.Prev(); actual != expectedPrev {
			report.Issues = append(report.Issues, models.ChainIssue{
				LogID: e.ID, Message: "prev hash mismatch", Expected: expectedPrev, Actual: actual,
			})
		}
		if want := worm.AuditFingerprint(e.FingerprintInput(), secret); want != e.AuditHash {
			report.Issues = append(report.Issues, models.ChainIssue{
				LogID: e.ID, Message: "audit hash mismatch", Expected: want, Actual: e.AuditHash,
			})
		}
		expectedPrev = e.AuditHash
	}
	report.Valid = len(report.Issues) == 0
	return report
}

// CheckEntries recomputes entries read from outside the store, such as an
// archived snapshot, with this ledger's secret.
func (l *Ledger) CheckEntries(entries []*models.AuditLogEntry) *ChainReport {
	return Check(entries, l.secret)
}

// ListByDocument returns the newest entries of a document across orgs.
func (l *Ledger) ListByDocument(ctx context.Context, docID string, limit int) ([]*models.AuditLogEntry, error) {
	out, err := l.store.ListAuditByDocument(ctx, docID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("ledger: list by document: %w", err)
	}
	return out, nil
}

// ListByOrg pages through an organisation's entries, newest first.
func (l *Ledger) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]*models.AuditLogEntry, error) {
	if offset < 0 {
		offset = 0
	}
	out, err := l.store.ListAuditByOrg(ctx, orgID, clampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by org: %w", err)
	}
	return out, nil
}

func (l *Ledger) ScopesSince(ctx context.Context, since time.Time) ([]models.Scope, error) {
	return l.store.ScopesSince(ctx, since)
}

// Entries returns a scope in chain order.
func (l *Ledger) Entries(ctx context.Context, scope models.Scope) ([]*models.AuditLogEntry, error) {
	return l.store.ListScope(ctx, scope)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
