package versions

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
)

// Version creation modes.
const (
	ModeAuto          = "auto"
	ModeTransactional = "transactional"
	ModeOptimistic    = "optimistic"
	ModeBestEffort    = "best_effort"
)

const (
	DefaultMaxRetries = 5
	baseBackoff       = 5 * time.Millisecond
	maxBackoff        = 250 * time.Millisecond
)

// Strategy makes the read-compute-write of one version atomic per document,
// or, for best_effort, explicitly does not.
type Strategy interface {
	Name() string
	Append(ctx context.Context, docID string, build models.VersionBuildFunc) (*models.VersionCommit, error)
}

// SelectStrategy resolves mode against what the store supports. It is called
// once at startup; the result never changes for the life of the process.
func SelectStrategy(ctx context.Context, store Store, mode string, maxRetries int, m *metrics.Metrics, log *zap.Logger) (Strategy, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	log = log.Named("versions")

	var s Strategy
	switch mode {
	case ModeAuto, "":
		caps, err := store.Capabilities(ctx)
		if err != nil {
			return nil, fmt.Errorf("versions: probe store: %w", err)
		}
		if caps.Transactions {
			s = &transactional{store: store, maxRetries: maxRetries, metrics: m}
		} else {
			s = &optimistic{store: store, maxRetries: maxRetries, metrics: m}
		}
	case ModeTransactional:
		caps, err := store.Capabilities(ctx)
		if err != nil {
			return nil, fmt.Errorf("versions: probe store: %w", err)
		}
		if !caps.Transactions {
			return nil, errors.New("versions: transactional mode requested but store has no transaction support")
		}
		s = &transactional{store: store, maxRetries: maxRetries, metrics: m}
	case ModeOptimistic:
		s = &optimistic{store: store, maxRetries: maxRetries, metrics: m}
	case ModeBestEffort:
		s = &bestEffort{store: store}
		log.Warn("version creation running in best_effort mode: concurrent uploads of one document may collide",
			zap.String("mode", ModeBestEffort))
	default:
		return nil, fmt.Errorf("versions: unknown creation mode %q", mode)
	}

	m.SetVersionMode(s.Name())
	log.Info("version creation mode selected", zap.String("requested", mode), zap.String("mode", s.Name()))
	return s, nil
}

// ── transactional ─────────────────────────────────────────────────────────────

type transactional struct {
	store      Store
	maxRetries int
	metrics    *metrics.Metrics
}

func (t *transactional) Name() string { return ModeTransactional }

// Append retries only the race of two writers creating the same new document,
// which a row lock cannot cover.
func (t *transactional) Append(ctx context.Context, docID string, build models.VersionBuildFunc) (*models.VersionCommit, error) {
	var commit *models.VersionCommit
	err := retryOnConflict(ctx, t.maxRetries, t.metrics, func() error {
		var err error
		commit, err = t.store.AppendLocked(ctx, docID, build)
		return err
	})
	return commit, err
}

// ── optimistic ────────────────────────────────────────────────────────────────

type optimistic struct {
	store      Store
	maxRetries int
	metrics    *metrics.Metrics
}

func (o *optimistic) Name() string { return ModeOptimistic }

func (o *optimistic) Append(ctx context.Context, docID string, build models.VersionBuildFunc) (*models.VersionCommit, error) {
	var commit *models.VersionCommit
	err := retryOnConflict(ctx, o.maxRetries, o.metrics, func() error {
		doc, prev, err := readHead(ctx, o.store, docID)
		if err != nil {
			return err
		}
		c, err := build(doc, prev)
		if err != nil {
			return err
		}
		expected := 0
		if doc != nil {
			expected = doc.CurrentVersion
		}
		if err := o.store.CompareAndAppend(ctx, expected, c); err != nil {
			return err
		}
		commit = c
		return nil
	})
	return commit, err
}

// ── best effort ───────────────────────────────────────────────────────────────

type bestEffort struct {
	store Store
}

func (b *bestEffort) Name() string { return ModeBestEffort }

func (b *bestEffort) Append(ctx context.Context, docID string, build models.VersionBuildFunc) (*models.VersionCommit, error) {
	doc, prev, err := readHead(ctx, b.store, docID)
	if err != nil {
		return nil, err
	}
	c, err := build(doc, prev)
	if err != nil {
		return nil, err
	}
	if err := b.store.AppendUnchecked(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// readHead loads the document and its latest version; both are nil for a new
// document.
func readHead(ctx context.Context, store Store, docID string) (*models.Document, *models.DocumentVersion, error) {
	doc, err := store.GetDocument(ctx, docID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if doc.CurrentVersion == 0 {
		return doc, nil, nil
	}
	prev, err := store.GetVersion(ctx, docID, doc.CurrentVersion)
	if err != nil {
		return nil, nil, err
	}
	return doc, prev, nil
}

// retryOnConflict runs fn until it succeeds, fails with something other than
// ErrConflict, or spends maxRetries retries.
func retryOnConflict(ctx context.Context, maxRetries int, m *metrics.Metrics, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, models.ErrConflict) {
			return err
		}
		m.VersionConflict()
		if attempt >= maxRetries {
			return models.ErrRetriesExhausted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
}

// backoff is full-jitter exponential: uniform in [0, min(max, base*2^attempt)].
func backoff(attempt int) time.Duration {
	d := baseBackoff << attempt
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	return rand.N(d + 1)
}
