package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/queue"
)

// ScopeScheduler periodically enqueues verification (and optionally snapshot)
// tasks for every scope with ledger activity since its previous run.
type ScopeScheduler struct {
	scopes    ScopeLister
	queue     Enqueuer
	log       *zap.Logger
	interval  time.Duration
	snapshots bool
	now       func() time.Time
	last      time.Time
}

func NewScopeScheduler(scopes ScopeLister, q Enqueuer, log *zap.Logger, interval time.Duration, snapshots bool) *ScopeScheduler {
	return &ScopeScheduler{
		scopes:    scopes,
		queue:     q,
		log:       log.Named("scheduler"),
		interval:  interval,
		snapshots: snapshots,
		now:       time.Now,
	}
}

func (s *ScopeScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.schedule(ctx)
		}
	}
}

func (s *ScopeScheduler) schedule(ctx context.Context) {
	now := s.now().UTC()
	since := s.last
	if since.IsZero() {
		since = now.Add(-s.interval)
	}

	scopes, err := s.scopes.ScopesSince(ctx, since)
	if err != nil {
		s.log.Error("scheduler: list active scopes", zap.Error(err))
		return
	}

	docs := make(map[string]struct{})
	for _, sc := range scopes {
		p := queue.ScopePayload{OrgID: sc.OrgID, DocID: sc.DocID}

		task, err := queue.NewLedgerVerifyTask(p)
		if err != nil {
			s.log.Error("scheduler: create verify task", zap.String("org_id", sc.OrgID), zap.String("doc_id", sc.DocID), zap.Error(err))
			continue
		}
		s.enqueue(ctx, task, queue.TaskID("verify", p, since))

		if s.snapshots {
			task, err := queue.NewLedgerSnapshotTask(p)
			if err != nil {
				s.log.Error("scheduler: create snapshot task", zap.String("org_id", sc.OrgID), zap.String("doc_id", sc.DocID), zap.Error(err))
				continue
			}
			s.enqueue(ctx, task, queue.TaskID("snapshot", p, since))
		}

		if _, seen := docs[sc.DocID]; seen {
			continue
		}
		docs[sc.DocID] = struct{}{}
		task, err = queue.NewVersionsVerifyTask(queue.VersionsVerifyPayload{DocID: sc.DocID})
		if err != nil {
			s.log.Error("scheduler: create versions task", zap.String("doc_id", sc.DocID), zap.Error(err))
			continue
		}
		s.enqueue(ctx, task, queue.TaskID("versions", queue.ScopePayload{DocID: sc.DocID}, since))
	}

	s.last = now
}

func (s *ScopeScheduler) enqueue(ctx context.Context, task *asynq.Task, taskID string) {
	_, err := s.queue.EnqueueContext(ctx, task, asynq.TaskID(taskID))
	if err == nil {
		return
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		// Already queued for this window.
		return
	}
	s.log.Error("scheduler: enqueue task", zap.String("task_id", taskID), zap.Error(err))
}
