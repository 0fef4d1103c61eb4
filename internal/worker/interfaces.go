package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/storage"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/versions"
)

// Interfaces for dependency injection to allow testing.

// Chains is the ledger surface the processors need.
type Chains interface {
	VerifyChain(ctx context.Context, orgID, docID string) (*ledger.ChainReport, error)
	Entries(ctx context.Context, scope models.Scope) ([]*models.AuditLogEntry, error)
	CheckEntries(entries []*models.AuditLogEntry) *ledger.ChainReport
}

// ScopeLister reports scopes with ledger activity.
type ScopeLister interface {
	ScopesSince(ctx context.Context, since time.Time) ([]models.Scope, error)
}

type VersionChains interface {
	VerifyVersionChain(ctx context.Context, docID string) (*versions.ChainReport, error)
}

// SnapshotRepository records archived snapshots.
type SnapshotRepository interface {
	InsertSnapshot(ctx context.Context, s *models.LedgerSnapshot) error
	LatestSnapshot(ctx context.Context, scope models.Scope) (*models.LedgerSnapshot, error)
}

// SnapshotArchive is the object storage holding snapshot blobs.
type SnapshotArchive interface {
	PutSnapshot(ctx context.Context, scope models.Scope, at time.Time, raw []byte) (storage.BlobMetadata, string, error)
	GetSnapshot(ctx context.Context, key, sha256hex string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
