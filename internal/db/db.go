package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/config"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
)

type DB struct {
	Pool      *pgxpool.Pool
	Documents *DocumentRepository
	Audit     *AuditRepository
	Workflow  *WorkflowRepository
	Stats     *StatsRepository
	Snapshots *SnapshotRepository
}

// Connect returns a DB backed by a pgxpool.Pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return New(pool), nil
}

// New wires the repositories over an existing pool.
func New(pool *pgxpool.Pool) *DB {
	return &DB{
		Pool:      pool,
		Documents: NewDocumentRepository(pool),
		Audit:     NewAuditRepository(pool),
		Workflow:  NewWorkflowRepository(pool),
		Stats:     NewStatsRepository(pool),
		Snapshots: NewSnapshotRepository(pool),
	}
}

func (db *DB) Close() {
	db.Pool.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Capabilities reports what the document store supports.
func (db *DB) Capabilities(ctx context.Context) (models.StoreCapabilities, error) {
	return db.Documents.Capabilities(ctx)
}

// withTx runs fn in a transaction, rolling back on error or panic.
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db: commit: %w", err)
	}
	return nil
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// notFound maps pgx.ErrNoRows onto the domain error.
func notFound(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}
