package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/notifications"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/queue"
)

// Integrity violations are not transient, so processors report them and
// return nil instead of letting asynq retry.

type ChainVerifyProcessor struct {
	chains Chains
	alerts notifications.Notifier
	log    *zap.Logger
}

func NewChainVerifyProcessor(chains Chains, alerts notifications.Notifier, log *zap.Logger) *ChainVerifyProcessor {
	return &ChainVerifyProcessor{chains: chains, alerts: alerts, log: log.Named("chain_verify")}
}

func (p *ChainVerifyProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseScopePayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %w: %w", err, asynq.SkipRetry)
	}

	report, err := p.chains.VerifyChain(ctx, payload.OrgID, payload.DocID)
	if err != nil {
		return fmt.Errorf("verify chain %s/%s: %w", payload.OrgID, payload.DocID, err)
	}
	if report.Valid {
		p.log.Debug("ledger chain intact",
			zap.String("org_id", payload.OrgID),
			zap.String("doc_id", payload.DocID),
			zap.Int("entries", report.TotalEntries),
		)
		return nil
	}

	violation := report.Violation()
	p.log.Error("ledger integrity violation detected",
		zap.String("org_id", payload.OrgID),
		zap.String("doc_id", payload.DocID),
		zap.Int("issues", len(report.Issues)),
		zap.Error(violation),
	)
	alert(ctx, p.alerts, p.log, payload.OrgID+"/"+payload.DocID, violation.Error())
	return nil
}

type VersionChainVerifyProcessor struct {
	versions VersionChains
	alerts   notifications.Notifier
	log      *zap.Logger
}

func NewVersionChainVerifyProcessor(versions VersionChains, alerts notifications.Notifier, log *zap.Logger) *VersionChainVerifyProcessor {
	return &VersionChainVerifyProcessor{versions: versions, alerts: alerts, log: log.Named("versions_verify")}
}

func (p *VersionChainVerifyProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseVersionsVerifyPayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %w: %w", err, asynq.SkipRetry)
	}

	report, err := p.versions.VerifyVersionChain(ctx, payload.DocID)
	if errors.Is(err, models.ErrNotFound) {
		p.log.Warn("document vanished before verification", zap.String("doc_id", payload.DocID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("verify version chain %s: %w", payload.DocID, err)
	}
	if report.Valid {
		return nil
	}

	violation := report.Violation()
	p.log.Error("version chain integrity violation detected",
		zap.String("doc_id", payload.DocID),
		zap.Int("issues", len(report.Issues)),
		zap.Error(violation),
	)
	alert(ctx, p.alerts, p.log, payload.DocID, violation.Error())
	return nil
}

// SnapshotProcessor archives a verified ledger scope as gzip NDJSON and
// records where it went.
type SnapshotProcessor struct {
	chains    Chains
	snapshots SnapshotRepository
	archive   SnapshotArchive
	queue     Enqueuer
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewSnapshotProcessor(chains Chains, snapshots SnapshotRepository, archive SnapshotArchive, q Enqueuer, m *metrics.Metrics, log *zap.Logger) *SnapshotProcessor {
	return &SnapshotProcessor{
		chains:    chains,
		snapshots: snapshots,
		archive:   archive,
		queue:     q,
		metrics:   m,
		log:       log.Named("snapshot"),
		now:       time.Now,
	}
}

func (p *SnapshotProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseScopePayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %w: %w", err, asynq.SkipRetry)
	}
	scope := models.Scope{OrgID: payload.OrgID, DocID: payload.DocID}

	entries, err := p.chains.Entries(ctx, scope)
	if err != nil {
		return fmt.Errorf("load scope: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	head := entries[len(entries)-1].AuditHash

	last, err := p.snapshots.LatestSnapshot(ctx, scope)
	switch {
	case err == nil && last.HeadHash == head:
		return nil
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("latest snapshot: %w", err)
	}

	// Only an intact chain is archived.
	if report := p.chains.CheckEntries(entries); !report.Valid {
		p.log.Warn("snapshot skipped for invalid chain",
			zap.String("org_id", scope.OrgID),
			zap.String("doc_id", scope.DocID),
			zap.Int("issues", len(report.Issues)),
		)
		return nil
	}

	raw, err := encodeNDJSON(entries)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	at := p.now().UTC()
	meta, provider, err := p.archive.PutSnapshot(ctx, scope, at, raw)
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	snap := &models.LedgerSnapshot{
		ID:         uuid.New(),
		OrgID:      scope.OrgID,
		DocID:      scope.DocID,
		S3Key:      meta.Key,
		Provider:   provider,
		SHA256:     meta.SHA256,
		EntryCount: len(entries),
		HeadHash:   head,
		CreatedAt:  at,
	}
	if err := p.snapshots.InsertSnapshot(ctx, snap); err != nil {
		// An unrecorded blob is never read; the retry uploads a fresh one.
		if delErr := p.archive.DeleteObject(ctx, meta.Key); delErr != nil {
			p.log.Warn("orphaned snapshot blob not removed",
				zap.String("key", meta.Key),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("record snapshot: %w", err)
	}
	p.metrics.Snapshot(provider)
	p.log.Info("ledger snapshot archived",
		zap.String("org_id", scope.OrgID),
		zap.String("doc_id", scope.DocID),
		zap.String("key", meta.Key),
		zap.String("provider", provider),
		zap.Int("entries", len(entries)),
	)

	// The archive is complete; a failed enqueue only defers the re-read check.
	verifyTask, err := queue.NewSnapshotVerifyTask(payload)
	if err != nil {
		return fmt.Errorf("create snapshot verify task: %w", err)
	}
	if _, err := p.queue.EnqueueContext(ctx, verifyTask); err != nil {
		p.log.Error("enqueue snapshot verify failed",
			zap.String("org_id", scope.OrgID),
			zap.String("doc_id", scope.DocID),
			zap.Error(err),
		)
	}
	return nil
}

// SnapshotVerifyProcessor re-reads the latest archived snapshot of a scope and
// checks the blob digest, the entry count, the head fingerprint and the chain.
type SnapshotVerifyProcessor struct {
	chains    Chains
	snapshots SnapshotRepository
	archive   SnapshotArchive
	alerts    notifications.Notifier
	log       *zap.Logger
}

func NewSnapshotVerifyProcessor(chains Chains, snapshots SnapshotRepository, archive SnapshotArchive, alerts notifications.Notifier, log *zap.Logger) *SnapshotVerifyProcessor {
	return &SnapshotVerifyProcessor{
		chains:    chains,
		snapshots: snapshots,
		archive:   archive,
		alerts:    alerts,
		log:       log.Named("snapshot_verify"),
	}
}

func (p *SnapshotVerifyProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseScopePayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %w: %w", err, asynq.SkipRetry)
	}
	scope := models.Scope{OrgID: payload.OrgID, DocID: payload.DocID}

	snap, err := p.snapshots.LatestSnapshot(ctx, scope)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest snapshot: %w", err)
	}

	raw, err := p.archive.GetSnapshot(ctx, snap.S3Key, snap.SHA256)
	if errors.Is(err, models.ErrIntegrity) {
		p.violation(ctx, snap, err.Error())
		return nil
	}
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}

	entries, err := decodeNDJSON(raw)
	if err != nil {
		p.violation(ctx, snap, "undecodable snapshot: "+err.Error())
		return nil
	}
	switch {
	case len(entries) != snap.EntryCount:
		p.violation(ctx, snap, fmt.Sprintf("entry count %d, recorded %d", len(entries), snap.EntryCount))
	case len(entries) > 0 && entries[len(entries)-1].AuditHash != snap.HeadHash:
		p.violation(ctx, snap, "head fingerprint differs from recorded head")
	default:
		if report := p.chains.CheckEntries(entries); !report.Valid {
			p.violation(ctx, snap, report.Violation().Error())
		}
	}
	return nil
}

func (p *SnapshotVerifyProcessor) violation(ctx context.Context, snap *models.LedgerSnapshot, msg string) {
	p.log.Error("snapshot integrity violation detected",
		zap.String("org_id", snap.OrgID),
		zap.String("doc_id", snap.DocID),
		zap.String("key", snap.S3Key),
		zap.String("detail", msg),
	)
	alert(ctx, p.alerts, p.log, snap.OrgID+"/"+snap.DocID, "snapshot "+snap.S3Key+": "+msg)
}

func alert(ctx context.Context, n notifications.Notifier, log *zap.Logger, scope, msg string) {
	if n == nil {
		return
	}
	if err := n.SendAlert(ctx, scope, notifications.SeverityCritical, msg); err != nil {
		log.Warn("alert delivery failed", zap.String("scope", scope), zap.Error(err))
	}
}

func encodeNDJSON(entries []*models.AuditLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeNDJSON(raw []byte) ([]*models.AuditLogEntry, error) {
	var out []*models.AuditLogEntry
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var e models.AuditLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, sc.Err()
}
