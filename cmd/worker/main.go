package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/config"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/db"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/kms"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/notifications"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/queue"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/storage"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/versions"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/worker"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Must("production", "docauth-worker").Fatal("failed to load config", zap.Error(err))
	}
	log := logger.Must(cfg.App.Env, "docauth-worker")
	defer func() { _ = log.Sync() }()

	if _, err := maxprocs.Set(maxprocs.Logger(log.Sugar().Infof)); err != nil {
		log.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	if cfg.Database.DSN == "" {
		log.Fatal("database.dsn is required (DOCAUTH_DATABASE_DSN)")
	}

	secret, err := kms.ResolveSecret(cfg.Ledger.Secret, cfg.Ledger.SecretEnc, cfg.KMS.Key)
	if err != nil {
		log.Fatal("failed to resolve ledger secret", zap.Error(err))
	}

	// 1. Init DB
	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	// 2. Init metrics and alerting
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var alerts notifications.Notifier = notifications.NewLogNotifier(log)
	if cfg.Ledger.NotifyWebhook != "" {
		alerts = notifications.Multi{alerts, notifications.NewSlackNotifier(cfg.Ledger.NotifyWebhook)}
	}

	l, err := ledger.New(database.Audit, secret, alerts, m, log)
	if err != nil {
		log.Fatal("failed to init ledger", zap.Error(err))
	}
	defer l.Flush()

	strategy, err := versions.SelectStrategy(ctx, database.Documents, cfg.Versions.Strategy, cfg.Versions.MaxRetries, m, log)
	if err != nil {
		log.Fatal("failed to select version strategy", zap.Error(err))
	}
	initial, err := models.ParseWorkflowStatus(cfg.Versions.InitialStatus)
	if err != nil {
		log.Fatal("invalid versions.initial_status", zap.Error(err))
	}
	versionSvc := versions.NewService(database.Documents, strategy, l, initial, m, log)

	// 3. Init Storage
	archive, err := storage.Open(ctx, cfg.Storage, cfg.S3)
	if err != nil {
		log.Fatal("failed to init storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}

	// 4. Init Queue
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	// 5. Init Processors
	chainProcessor := worker.NewChainVerifyProcessor(l, alerts, log)
	versionProcessor := worker.NewVersionChainVerifyProcessor(versionSvc, alerts, log)
	snapshotProcessor := worker.NewSnapshotProcessor(l, database.Snapshots, archive, queueClient, m, log)
	snapshotVerifyProcessor := worker.NewSnapshotVerifyProcessor(l, database.Snapshots, archive, alerts, log)

	// 6. Start Scheduler
	scheduler := worker.NewScopeScheduler(l, queueClient, log, cfg.Worker.SchedulerInterval, cfg.Worker.Snapshots)
	go scheduler.Run(ctx)

	// 7. Metrics endpoint
	var metricsSrv *http.Server
	if cfg.Worker.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Worker.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	// 8. Start Worker Server
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			Logger: log.Named("asynq").Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeLedgerVerify, chainProcessor.ProcessTask)
	mux.HandleFunc(queue.TypeVersionsVerify, versionProcessor.ProcessTask)
	mux.HandleFunc(queue.TypeLedgerSnapshot, snapshotProcessor.ProcessTask)
	mux.HandleFunc(queue.TypeSnapshotVerify, snapshotVerifyProcessor.ProcessTask)

	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatal("could not run worker server", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cancel()
	srv.Shutdown()
	if metricsSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}
