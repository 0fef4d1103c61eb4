package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ── DocumentRepository ────────────────────────────────────────────────────────

type DocumentRepository struct{ db *pgxpool.Pool }

func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `doc_id,org_id,type,metadata,current_version,version_fingerprints,created_by,created_at,updated_at`

const versionColumns = `doc_id,version_number,root_fingerprint,prev_version_fingerprint,version_fingerprint,
	workflow_status,created_by,created_at,revoked_at,revoked_by,revocation_reason`

// Capabilities probes whether the connection supports row locks inside a
// transaction. The probe never writes.
func (r *DocumentRepository) Capabilities(ctx context.Context) (models.StoreCapabilities, error) {
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `SELECT doc_id FROM documents LIMIT 1 FOR UPDATE`)
		return err
	})
	if err != nil {
		return models.StoreCapabilities{}, fmt.Errorf("db: capability probe: %w", err)
	}
	return models.StoreCapabilities{Transactions: true}, nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	d, err := getDocument(ctx, r.db, docID, false)
	if err != nil {
		return nil, fmt.Errorf("document get: %w", notFound(err, "document", docID))
	}
	return d, nil
}

func (r *DocumentRepository) GetVersion(ctx context.Context, docID string, n int) (*models.DocumentVersion, error) {
	v, err := getVersion(ctx, r.db, docID, n)
	if err != nil {
		return nil, fmt.Errorf("version get: %w", notFound(err, "version", docID+"@v"+strconv.Itoa(n)))
	}
	return v, nil
}

func (r *DocumentRepository) GetVersionByFingerprint(ctx context.Context, docID, fingerprint string) (*models.DocumentVersion, error) {
	const q = `SELECT ` + versionColumns + ` FROM document_versions
		WHERE doc_id=$1 AND version_fingerprint=$2`
	v, err := scanVersion(r.db.QueryRow(ctx, q, docID, fingerprint))
	if err != nil {
		return nil, fmt.Errorf("version get by fingerprint: %w", notFound(err, "version", docID+"@"+fingerprint))
	}
	return v, nil
}

func (r *DocumentRepository) GetHashParts(ctx context.Context, docID string, n int) (*models.HashParts, error) {
	const q = `SELECT doc_id,version_number,text_hash,image_hash,signature_hash,stamp_hash
		FROM hash_parts WHERE doc_id=$1 AND version_number=$2`
	p := &models.HashParts{}
	var text, image, sig, stamp *string
	err := r.db.QueryRow(ctx, q, docID, n).Scan(&p.DocID, &p.VersionNumber, &text, &image, &sig, &stamp)
	if err != nil {
		return nil, fmt.Errorf("hash parts get: %w", notFound(err, "hash parts", docID+"@v"+strconv.Itoa(n)))
	}
	p.TextHash, p.ImageHash, p.SignatureHash, p.StampHash = deref(text), deref(image), deref(sig), deref(stamp)
	return p, nil
}

func (r *DocumentRepository) ListVersions(ctx context.Context, docID string) ([]*models.DocumentVersion, error) {
	const q = `SELECT ` + versionColumns + ` FROM document_versions
		WHERE doc_id=$1 ORDER BY version_number`
	rows, err := r.db.Query(ctx, q, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *DocumentRepository) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	rows, err := r.db.Query(ctx, `SELECT workflow_status, count(*) FROM document_versions GROUP BY workflow_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := models.StatusCounts{}
	for rows.Next() {
		var st models.WorkflowStatus
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

// AppendLocked locks the document row for the whole read-build-write. A
// document created concurrently by another writer surfaces as ErrConflict.
func (r *DocumentRepository) AppendLocked(ctx context.Context, docID string, build models.VersionBuildFunc) (*models.VersionCommit, error) {
	var commit *models.VersionCommit
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		doc, err := getDocument(ctx, tx, docID, true)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock document: %w", err)
		}
		var prev *models.DocumentVersion
		if doc != nil && doc.CurrentVersion > 0 {
			if prev, err = getVersion(ctx, tx, docID, doc.CurrentVersion); err != nil {
				return fmt.Errorf("load previous version: %w", err)
			}
		}
		if commit, err = build(doc, prev); err != nil {
			return err
		}
		return writeCommit(ctx, tx, commit)
	})
	if err != nil {
		return nil, conflictOr(err)
	}
	return commit, nil
}

// CompareAndAppend commits c only if current_version still equals expected.
func (r *DocumentRepository) CompareAndAppend(ctx context.Context, expected int, c *models.VersionCommit) error {
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if !c.Created {
			const q = `UPDATE documents SET current_version=$2, version_fingerprints=$3, updated_at=now()
				WHERE doc_id=$1 AND current_version=$4`
			tag, err := tx.Exec(ctx, q, c.Document.DocID, c.Document.CurrentVersion, c.Document.VersionFingerprints, expected)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return models.ErrConflict
			}
			return writeVersion(ctx, tx, c)
		}
		return writeCommit(ctx, tx, c)
	})
	return conflictOr(err)
}

// AppendUnchecked commits c with no counter check. The primary keys still
// reject a duplicate version number.
func (r *DocumentRepository) AppendUnchecked(ctx context.Context, c *models.VersionCommit) error {
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		const q = `INSERT INTO documents(` + documentColumns + `)
			VALUES($1,$2,$3,$4,$5,$6,$7,now(),now())
			ON CONFLICT (doc_id) DO UPDATE SET
				current_version=EXCLUDED.current_version,
				version_fingerprints=EXCLUDED.version_fingerprints,
				updated_at=now()`
		d := c.Document
		if _, err := tx.Exec(ctx, q, d.DocID, d.OrgID, d.Type, d.Metadata, d.CurrentVersion, d.VersionFingerprints, d.CreatedBy); err != nil {
			return err
		}
		return writeVersion(ctx, tx, c)
	})
	return conflictOr(err)
}

func writeCommit(ctx context.Context, tx pgx.Tx, c *models.VersionCommit) error {
	d := c.Document
	if c.Created {
		const q = `INSERT INTO documents(` + documentColumns + `)
			VALUES($1,$2,$3,$4,$5,$6,$7,now(),now())`
		if _, err := tx.Exec(ctx, q, d.DocID, d.OrgID, d.Type, d.Metadata, d.CurrentVersion, d.VersionFingerprints, d.CreatedBy); err != nil {
			return err
		}
	} else {
		const q = `UPDATE documents SET current_version=$2, version_fingerprints=$3, updated_at=now() WHERE doc_id=$1`
		if _, err := tx.Exec(ctx, q, d.DocID, d.CurrentVersion, d.VersionFingerprints); err != nil {
			return err
		}
	}
	return writeVersion(ctx, tx, c)
}

func writeVersion(ctx context.Context, tx pgx.Tx, c *models.VersionCommit) error {
	v, p := c.Version, c.Parts
	const qv = `INSERT INTO document_versions
		(doc_id,version_number,root_fingerprint,prev_version_fingerprint,version_fingerprint,workflow_status,created_by,created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,now())
		RETURNING created_at`
	if err := tx.QueryRow(ctx, qv,
		v.DocID, v.VersionNumber, v.RootFingerprint, v.PrevVersionFingerprint, v.VersionFingerprint, v.Status, v.CreatedBy,
	).Scan(&v.CreatedAt); err != nil {
		return err
	}
	const qp = `INSERT INTO hash_parts(doc_id,version_number,text_hash,image_hash,signature_hash,stamp_hash)
		VALUES($1,$2,$3,$4,$5,$6)`
	_, err := tx.Exec(ctx, qp, v.DocID, v.VersionNumber,
		nullable(p.TextHash), nullable(p.ImageHash), nullable(p.SignatureHash), nullable(p.StampHash))
	return err
}

func getDocument(ctx context.Context, q querier, docID string, forUpdate bool) (*models.Document, error) {
	sql := `SELECT ` + documentColumns + ` FROM documents WHERE doc_id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	d := &models.Document{}
	err := q.QueryRow(ctx, sql, docID).Scan(
		&d.DocID, &d.OrgID, &d.Type, &d.Metadata, &d.CurrentVersion, &d.VersionFingerprints,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func getVersion(ctx context.Context, q querier, docID string, n int) (*models.DocumentVersion, error) {
	const sql = `SELECT ` + versionColumns + ` FROM document_versions WHERE doc_id=$1 AND version_number=$2`
	return scanVersion(q.QueryRow(ctx, sql, docID, n))
}

func scanVersion(row pgx.Row) (*models.DocumentVersion, error) {
	v := &models.DocumentVersion{}
	err := row.Scan(&v.DocID, &v.VersionNumber, &v.RootFingerprint, &v.PrevVersionFingerprint,
		&v.VersionFingerprint, &v.Status, &v.CreatedBy, &v.CreatedAt,
		&v.RevokedAt, &v.RevokedBy, &v.RevocationReason)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ── WorkflowRepository ────────────────────────────────────────────────────────

type WorkflowRepository struct{ db *pgxpool.Pool }

func NewWorkflowRepository(db *pgxpool.Pool) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// ApplyTransition updates the version's workflow fields and writes the
// history row in one transaction.
func (r *WorkflowRepository) ApplyTransition(ctx context.Context, v *models.DocumentVersion, t *models.WorkflowTransition) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		const qu = `UPDATE document_versions
			SET workflow_status=$3, revoked_at=$4, revoked_by=$5, revocation_reason=$6
			WHERE doc_id=$1 AND version_number=$2`
		tag, err := tx.Exec(ctx, qu, v.DocID, v.VersionNumber, v.Status, v.RevokedAt, v.RevokedBy, v.RevocationReason)
		if err != nil {
			return fmt.Errorf("workflow update version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.NewNotFoundError("version", v.DocID+"@v"+strconv.Itoa(v.VersionNumber))
		}
		const qi = `INSERT INTO document_workflow(doc_id,version_number,status,changed_by,reason,changed_at)
			VALUES($1,$2,$3,$4,$5,now()) RETURNING id,changed_at`
		return tx.QueryRow(ctx, qi, t.DocID, t.VersionNumber, t.Status, t.ChangedBy, t.Reason).Scan(&t.ID, &t.ChangedAt)
	})
}

func (r *WorkflowRepository) ListTransitions(ctx context.Context, docID string) ([]*models.WorkflowTransition, error) {
	const q = `SELECT id,doc_id,version_number,status,changed_by,reason,changed_at
		FROM document_workflow WHERE doc_id=$1 ORDER BY changed_at DESC, id DESC`
	rows, err := r.db.Query(ctx, q, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.WorkflowTransition
	for rows.Next() {
		t := &models.WorkflowTransition{}
		if err := rows.Scan(&t.ID, &t.DocID, &t.VersionNumber, &t.Status, &t.ChangedBy, &t.Reason, &t.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── AuditRepository ───────────────────────────────────────────────────────────

type AuditRepository struct{ db *pgxpool.Pool }

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `id,actor,org_id,doc_id,action,audit_hash,prev_audit_hash,created_at`

// AppendAudit takes a transaction-scoped advisory lock on the scope so that
// writers in other processes observe the same head.
func (r *AuditRepository) AppendAudit(ctx context.Context, scope models.Scope, build models.AuditBuildFunc) (*models.AuditLogEntry, error) {
	var entry *models.AuditLogEntry
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1 || '/' || $2, 0))`,
			scope.OrgID, scope.DocID); err != nil {
			return fmt.Errorf("audit lock scope: %w", err)
		}
		const qh = `SELECT ` + auditColumns + ` FROM audit_logs
			WHERE org_id=$1 AND doc_id=$2 ORDER BY created_at DESC, id DESC LIMIT 1`
		head, err := scanEntry(tx.QueryRow(ctx, qh, scope.OrgID, scope.DocID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("audit load head: %w", err)
		}
		if entry, err = build(head); err != nil {
			return err
		}
		const qi = `INSERT INTO audit_logs(actor,org_id,doc_id,action,audit_hash,prev_audit_hash,created_at)
			VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING id`
		return tx.QueryRow(ctx, qi, entry.Actor, entry.OrgID, entry.DocID, entry.Action,
			entry.AuditHash, entry.PrevAuditHash, entry.CreatedAt).Scan(&entry.ID)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListScope returns a scope's entries in chain order.
func (r *AuditRepository) ListScope(ctx context.Context, scope models.Scope) ([]*models.AuditLogEntry, error) {
	const q = `SELECT ` + auditColumns + ` FROM audit_logs
		WHERE org_id=$1 AND doc_id=$2 ORDER BY created_at, id`
	return r.scanEntries(ctx, q, scope.OrgID, scope.DocID)
}

func (r *AuditRepository) ListAuditByDocument(ctx context.Context, docID string, limit int) ([]*models.AuditLogEntry, error) {
	const q = `SELECT ` + auditColumns + ` FROM audit_logs
		WHERE doc_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	return r.scanEntries(ctx, q, docID, limit)
}

func (r *AuditRepository) ListAuditByOrg(ctx context.Context, orgID string, limit, offset int) ([]*models.AuditLogEntry, error) {
	const q = `SELECT ` + auditColumns + ` FROM audit_logs
		WHERE org_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	return r.scanEntries(ctx, q, orgID, limit, offset)
}

// ScopesSince lists scopes with at least one entry at or after since.
func (r *AuditRepository) ScopesSince(ctx context.Context, since time.Time) ([]models.Scope, error) {
	const q = `SELECT DISTINCT org_id, doc_id FROM audit_logs WHERE created_at >= $1`
	rows, err := r.db.Query(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Scope
	for rows.Next() {
		var s models.Scope
		if err := rows.Scan(&s.OrgID, &s.DocID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *AuditRepository) scanEntries(ctx context.Context, q string, args ...any) ([]*models.AuditLogEntry, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AuditLogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*models.AuditLogEntry, error) {
	e := &models.AuditLogEntry{}
	if err := row.Scan(&e.ID, &e.Actor, &e.OrgID, &e.DocID, &e.Action,
		&e.AuditHash, &e.PrevAuditHash, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// ── StatsRepository ───────────────────────────────────────────────────────────

type StatsRepository struct{ db *pgxpool.Pool }

func NewStatsRepository(db *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{db: db}
}

// RecordVerification stores one result row and folds it into the per-document
// aggregate in the same transaction.
func (r *StatsRepository) RecordVerification(ctx context.Context, res *models.VerificationResult) error {
	const insert = `INSERT INTO verification_results(doc_id,version_number,actor,org_id,method,outcome,
			text_match,image_match,signature_match,stamp_match,tamper_score,created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`
	const upsert = `INSERT INTO verification_stats(doc_id,total_verifications,scored_verifications,avg_tamper_score,last_outcome,last_verified_at)
		VALUES($1,1,CASE WHEN $2::int IS NULL THEN 0 ELSE 1 END,COALESCE($2::int,0),$3,$4)
		ON CONFLICT (doc_id) DO UPDATE SET
			total_verifications=verification_stats.total_verifications+1,
			avg_tamper_score=CASE WHEN $2::int IS NULL THEN verification_stats.avg_tamper_score
				ELSE (verification_stats.avg_tamper_score*verification_stats.scored_verifications+$2::int)
					/(verification_stats.scored_verifications+1) END,
			scored_verifications=verification_stats.scored_verifications+CASE WHEN $2::int IS NULL THEN 0 ELSE 1 END,
			last_outcome=EXCLUDED.last_outcome,
			last_verified_at=EXCLUDED.last_verified_at`

	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insert,
			res.DocID, res.VersionNumber, res.Actor, res.OrgID, res.Method, res.Outcome,
			res.TextMatch, res.ImageMatch, res.SignatureMatch, res.StampMatch, res.TamperScore, res.CreatedAt,
		).Scan(&res.ID)
		if err != nil {
			return fmt.Errorf("verification result insert: %w", err)
		}
		if _, err := tx.Exec(ctx, upsert, res.DocID, res.TamperScore, res.Outcome, res.CreatedAt); err != nil {
			return fmt.Errorf("verification stat upsert: %w", err)
		}
		return nil
	})
}

func (r *StatsRepository) GetVerificationStat(ctx context.Context, docID string) (*models.VerificationStat, error) {
	const q = `SELECT doc_id,total_verifications,scored_verifications,avg_tamper_score,last_outcome,last_verified_at
		FROM verification_stats WHERE doc_id=$1`
	s := &models.VerificationStat{}
	err := r.db.QueryRow(ctx, q, docID).Scan(&s.DocID, &s.TotalVerifications, &s.ScoredVerifications,
		&s.AvgTamperScore, &s.LastOutcome, &s.LastVerifiedAt)
	if err != nil {
		return nil, fmt.Errorf("verification stat get: %w", notFound(err, "verification stat", docID))
	}
	return s, nil
}

// ListVerificationResults returns a document's verification calls, newest first.
func (r *StatsRepository) ListVerificationResults(ctx context.Context, docID string, limit int) ([]*models.VerificationResult, error) {
	const q = `SELECT id,doc_id,version_number,actor,org_id,method,outcome,
			text_match,image_match,signature_match,stamp_match,tamper_score,created_at
		FROM verification_results WHERE doc_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.db.Query(ctx, q, docID, limit)
	if err != nil {
		return nil, fmt.Errorf("verification results list: %w", err)
	}
	defer rows.Close()

	out := []*models.VerificationResult{}
	for rows.Next() {
		v := &models.VerificationResult{}
		if err := rows.Scan(&v.ID, &v.DocID, &v.VersionNumber, &v.Actor, &v.OrgID, &v.Method, &v.Outcome,
			&v.TextMatch, &v.ImageMatch, &v.SignatureMatch, &v.StampMatch, &v.TamperScore, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("verification results scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ── SnapshotRepository ────────────────────────────────────────────────────────

type SnapshotRepository struct{ db *pgxpool.Pool }

func NewSnapshotRepository(db *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const snapshotColumns = `id,org_id,doc_id,s3_key,provider,sha256,entry_count,head_hash,created_at`

func (r *SnapshotRepository) InsertSnapshot(ctx context.Context, s *models.LedgerSnapshot) error {
	const q = `INSERT INTO ledger_snapshots(id,org_id,doc_id,s3_key,provider,sha256,entry_count,head_hash,created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,now()) RETURNING created_at`
	return r.db.QueryRow(ctx, q, s.ID, s.OrgID, s.DocID, s.S3Key, s.Provider, s.SHA256, s.EntryCount, s.HeadHash).
		Scan(&s.CreatedAt)
}

func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, scope models.Scope) (*models.LedgerSnapshot, error) {
	const q = `SELECT ` + snapshotColumns + ` FROM ledger_snapshots
		WHERE org_id=$1 AND doc_id=$2 ORDER BY created_at DESC LIMIT 1`
	s := &models.LedgerSnapshot{}
	err := r.db.QueryRow(ctx, q, scope.OrgID, scope.DocID).Scan(
		&s.ID, &s.OrgID, &s.DocID, &s.S3Key, &s.Provider, &s.SHA256, &s.EntryCount, &s.HeadHash, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("snapshot get: %w", notFound(err, "snapshot", scope.OrgID+"/"+scope.DocID))
	}
	return s, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func conflictOr(err error) error {
	if err != nil && isUniqueViolation(err) {
		return models.ErrConflict
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
