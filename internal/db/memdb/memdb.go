// Package memdb is an in-process implementation of the docauth stores. It
// backs the test suites and the "memory" database mode; state is lost on exit.
package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
)

type versionKey struct {
	docID string
	n     int
}

// DB guards all state with one mutex, which also makes every append atomic.
type DB struct {
	mu sync.Mutex

	txCapable bool

	docs        map[string]*models.Document
	versions    map[string][]*models.DocumentVersion // index n-1
	parts       map[versionKey]*models.HashParts
	audit       []*models.AuditLogEntry
	auditSeq    int64
	transitions []*models.WorkflowTransition
	transSeq    int64
	stats       map[string]*models.VerificationStat
	results     []*models.VerificationResult
	resultSeq   int64
	snapshots   []*models.LedgerSnapshot
}

type Option func(*DB)

// WithTransactions controls what Capabilities reports. Defaults to true.
func WithTransactions(enabled bool) Option {
	return func(d *DB) { d.txCapable = enabled }
}

func New(opts ...Option) *DB {
	d := &DB{
		txCapable: true,
		docs:      make(map[string]*models.Document),
		versions:  make(map[string][]*models.DocumentVersion),
		parts:     make(map[versionKey]*models.HashParts),
		stats:     make(map[string]*models.VerificationStat),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *DB) Capabilities(_ context.Context) (models.StoreCapabilities, error) {
	return models.StoreCapabilities{Transactions: d.txCapable}, nil
}

func (d *DB) Ping(_ context.Context) error { return nil }

// ── documents & versions ──────────────────────────────────────────────────────

func (d *DB) GetDocument(_ context.Context, docID string) (*models.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[docID]
	if !ok {
		return nil, models.NewNotFoundError("document", docID)
	}
	return copyDocument(doc), nil
}

func (d *DB) GetVersion(_ context.Context, docID string, n int) (*models.DocumentVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.versionLocked(docID, n)
	if v == nil {
		return nil, models.NewNotFoundError("version", versionID(docID, n))
	}
	return copyVersion(v), nil
}

func (d *DB) GetVersionByFingerprint(_ context.Context, docID, fingerprint string) (*models.DocumentVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range d.versions[docID] {
		if v.VersionFingerprint == fingerprint {
			return copyVersion(v), nil
		}
	}
	return nil, models.NewNotFoundError("version", docID+"@"+fingerprint)
}

func (d *DB) GetHashParts(_ context.Context, docID string, n int) (*models.HashParts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.parts[versionKey{docID, n}]
	if !ok {
		return nil, models.NewNotFoundError("hash parts", versionID(docID, n))
	}
	cp := *p
	return &cp, nil
}

func (d *DB) ListVersions(_ context.Context, docID string) ([]*models.DocumentVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*models.DocumentVersion, 0, len(d.versions[docID]))
	for _, v := range d.versions[docID] {
		out = append(out, copyVersion(v))
	}
	return out, nil
}

func (d *DB) CountByStatus(_ context.Context) (models.StatusCounts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := models.StatusCounts{}
	for _, vs := range d.versions {
		for _, v := range vs {
			counts[v.Status]++
		}
	}
	return counts, nil
}

// AppendLocked runs build while holding the store lock and persists its result.
func (d *DB) AppendLocked(_ context.Context, docID string, build models.VersionBuildFunc) (*models.VersionCommit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var doc *models.Document
	var prev *models.DocumentVersion
	if cur, ok := d.docs[docID]; ok {
		doc = copyDocument(cur)
		if p := d.versionLocked(docID, cur.CurrentVersion); p != nil {
			prev = copyVersion(p)
		}
	}
	c, err := build(doc, prev)
	if err != nil {
		return nil, err
	}
	if err := d.commitLocked(c); err != nil {
		return nil, err
	}
	return c, nil
}

// CompareAndAppend persists c only if the document's counter still equals expected.
func (d *DB) CompareAndAppend(_ context.Context, expected int, c *models.VersionCommit) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, exists := d.docs[c.Version.DocID]
	switch {
	case c.Created && exists:
		return models.ErrConflict
	case !c.Created && !exists:
		return models.ErrConflict
	case exists && cur.CurrentVersion != expected:
		return models.ErrConflict
	}
	return d.commitLocked(c)
}

// AppendUnchecked persists c without checking the counter. Duplicate version
// numbers still fail.
func (d *DB) AppendUnchecked(_ context.Context, c *models.VersionCommit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commitLocked(c)
}

func (d *DB) commitLocked(c *models.VersionCommit) error {
	docID := c.Version.DocID
	if d.versionLocked(docID, c.Version.VersionNumber) != nil {
		return models.ErrConflict
	}
	now := time.Now().UTC()
	doc := copyDocument(c.Document)
	if c.Created {
		doc.CreatedAt = now
	} else if cur, ok := d.docs[docID]; ok {
		doc.CreatedAt = cur.CreatedAt
	}
	doc.UpdatedAt = now
	d.docs[docID] = doc

	v := copyVersion(c.Version)
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	c.Version.CreatedAt = v.CreatedAt
	d.versions[docID] = append(d.versions[docID], v)
	sort.Slice(d.versions[docID], func(i, j int) bool {
		return d.versions[docID][i].VersionNumber < d.versions[docID][j].VersionNumber
	})

	p := *c.Parts
	d.parts[versionKey{docID, v.VersionNumber}] = &p
	return nil
}

func (d *DB) versionLocked(docID string, n int) *models.DocumentVersion {
	for _, v := range d.versions[docID] {
		if v.VersionNumber == n {
			return v
		}
	}
	return nil
}

// ── workflow ──────────────────────────────────────────────────────────────────

// ApplyTransition stores the version's workflow fields and the history row together.
func (d *DB) ApplyTransition(_ context.Context, v *models.DocumentVersion, t *models.WorkflowTransition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := d.versionLocked(v.DocID, v.VersionNumber)
	if stored == nil {
		return models.NewNotFoundError("version", versionID(v.DocID, v.VersionNumber))
	}
	stored.Status = v.Status
	stored.RevokedAt = v.RevokedAt
	stored.RevokedBy = v.RevokedBy
	stored.RevocationReason = v.RevocationReason

	d.transSeq++
	t.ID = d.transSeq
	if t.ChangedAt.IsZero() {
		t.ChangedAt = time.Now().UTC()
	}
	cp := *t
	d.transitions = append(d.transitions, &cp)
	return nil
}

// ListTransitions returns a document's history newest first.
func (d *DB) ListTransitions(_ context.Context, docID string) ([]*models.WorkflowTransition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*models.WorkflowTransition
	for i := len(d.transitions) - 1; i >= 0; i-- {
		if d.transitions[i].DocID == docID {
			cp := *d.transitions[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ── audit ledger ──────────────────────────────────────────────────────────────

func (d *DB) AppendAudit(_ context.Context, scope models.Scope, build models.AuditBuildFunc) (*models.AuditLogEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var head *models.AuditLogEntry
	for _, e := range d.scopeLocked(scope) {
		head = e
	}
	var prev *models.AuditLogEntry
	if head != nil {
		prev = copyEntry(head)
	}
	e, err := build(prev)
	if err != nil {
		return nil, err
	}
	d.auditSeq++
	e.ID = d.auditSeq
	d.audit = append(d.audit, copyEntry(e))
	return e, nil
}

// ListScope returns a scope's entries in chain order.
func (d *DB) ListScope(_ context.Context, scope models.Scope) ([]*models.AuditLogEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.scopeLocked(scope)
	out := make([]*models.AuditLogEntry, len(entries))
	for i, e := range entries {
		out[i] = copyEntry(e)
	}
	return out, nil
}

func (d *DB) ListAuditByDocument(_ context.Context, docID string, limit int) ([]*models.AuditLogEntry, error) {
	return d.filterAudit(func(e *models.AuditLogEntry) bool { return e.DocID == docID }, limit, 0), nil
}

func (d *DB) ListAuditByOrg(_ context.Context, orgID string, limit, offset int) ([]*models.AuditLogEntry, error) {
	return d.filterAudit(func(e *models.AuditLogEntry) bool { return e.OrgID == orgID }, limit, offset), nil
}

// ScopesSince lists scopes with at least one entry at or after since.
func (d *DB) ScopesSince(_ context.Context, since time.Time) ([]models.Scope, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[models.Scope]struct{})
	var out []models.Scope
	for _, e := range d.audit {
		if e.CreatedAt.Before(since) {
			continue
		}
		s := models.Scope{OrgID: e.OrgID, DocID: e.DocID}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

// Tamper edits a stored audit row in place, bypassing the ledger. It exists
// so tests can simulate out-of-band modification of history.
func (d *DB) Tamper(id int64, fn func(*models.AuditLogEntry)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.audit {
		if e.ID == id {
			fn(e)
			return true
		}
	}
	return false
}

func (d *DB) scopeLocked(scope models.Scope) []*models.AuditLogEntry {
	var out []*models.AuditLogEntry
	for _, e := range d.audit {
		if e.OrgID == scope.OrgID && e.DocID == scope.DocID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *DB) filterAudit(keep func(*models.AuditLogEntry) bool, limit, offset int) []*models.AuditLogEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*models.AuditLogEntry
	skipped := 0
	for i := len(d.audit) - 1; i >= 0; i-- {
		e := d.audit[i]
		if !keep(e) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, copyEntry(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ── verification stats & snapshots ────────────────────────────────────────────

func (d *DB) RecordVerification(_ context.Context, res *models.VerificationResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resultSeq++
	res.ID = d.resultSeq
	cp := *res
	d.results = append(d.results, &cp)

	s, ok := d.stats[res.DocID]
	if !ok {
		s = &models.VerificationStat{DocID: res.DocID}
		d.stats[res.DocID] = s
	}
	s.Add(res)
	return nil
}

// ListVerificationResults returns a document's calls newest first.
func (d *DB) ListVerificationResults(_ context.Context, docID string, limit int) ([]*models.VerificationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []*models.VerificationResult{}
	for i := len(d.results) - 1; i >= 0 && len(out) < limit; i-- {
		if r := d.results[i]; r.DocID == docID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (d *DB) GetVerificationStat(_ context.Context, docID string) (*models.VerificationStat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stats[docID]
	if !ok {
		return nil, models.NewNotFoundError("verification stat", docID)
	}
	cp := *s
	return &cp, nil
}

func (d *DB) InsertSnapshot(_ context.Context, s *models.LedgerSnapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	cp := *s
	d.snapshots = append(d.snapshots, &cp)
	return nil
}

func (d *DB) LatestSnapshot(_ context.Context, scope models.Scope) (*models.LedgerSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.snapshots) - 1; i >= 0; i-- {
		s := d.snapshots[i]
		if s.OrgID == scope.OrgID && s.DocID == scope.DocID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, models.NewNotFoundError("snapshot", scope.OrgID+"/"+scope.DocID)
}
