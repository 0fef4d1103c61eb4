package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeLedgerVerify   = "ledger:verify"
	TypeVersionsVerify = "versions:verify"
	TypeLedgerSnapshot = "ledger:snapshot"
	TypeSnapshotVerify = "snapshot:verify"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// ScopePayload addresses one audit chain. Used by TypeLedgerVerify,
// TypeLedgerSnapshot and TypeSnapshotVerify.
type ScopePayload struct {
	OrgID string `json:"org_id"`
	DocID string `json:"doc_id"`
}

// VersionsVerifyPayload is the task payload for TypeVersionsVerify.
type VersionsVerifyPayload struct {
	DocID string `json:"doc_id"`
}

func NewLedgerVerifyTask(p ScopePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal LedgerVerify: %w", err)
	}
	return asynq.NewTask(TypeLedgerVerify, b, asynq.Queue(QueueDefault)), nil
}

func NewVersionsVerifyTask(p VersionsVerifyPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal VersionsVerify: %w", err)
	}
	return asynq.NewTask(TypeVersionsVerify, b, asynq.Queue(QueueLow)), nil
}

func NewLedgerSnapshotTask(p ScopePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal LedgerSnapshot: %w", err)
	}
	return asynq.NewTask(TypeLedgerSnapshot, b, asynq.Queue(QueueLow), asynq.MaxRetry(3)), nil
}

func NewSnapshotVerifyTask(p ScopePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal SnapshotVerify: %w", err)
	}
	return asynq.NewTask(TypeSnapshotVerify, b, asynq.Queue(QueueLow)), nil
}

func ParseScopePayload(t *asynq.Task) (ScopePayload, error) {
	var p ScopePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("queue: unmarshal %s: %w", t.Type(), err)
	}
	if p.OrgID == "" || p.DocID == "" {
		return p, fmt.Errorf("queue: %s payload needs org_id and doc_id", t.Type())
	}
	return p, nil
}

func ParseVersionsVerifyPayload(t *asynq.Task) (VersionsVerifyPayload, error) {
	var p VersionsVerifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("queue: unmarshal %s: %w", t.Type(), err)
	}
	if p.DocID == "" {
		return p, fmt.Errorf("queue: %s payload needs doc_id", t.Type())
	}
	return p, nil
}

// TaskID makes one task per kind, scope and scheduler window so a rerun of the
// same window deduplicates in Redis.
func TaskID(kind string, p ScopePayload, window time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%d", kind, p.OrgID, p.DocID, window.Unix())
}
