package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/handlers"
	apimw "github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/middleware"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/api/routes"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/config"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/db"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/db/memdb"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/kms"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/metrics"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/notifications"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/storage"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/verification"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/versions"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/workflow"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/logger"
)

// documentStore is everything the services read and write about documents.
type documentStore interface {
	versions.Store
	verification.Store
	handlers.StatusCounter
}

type stores struct {
	docs        documentStore
	audit       ledger.Store
	transitions workflow.TransitionStore
	stats       interface {
		verification.StatsRecorder
		handlers.StatsReader
	}
	snapshots handlers.SnapshotReader
	ping      func(context.Context) error
	close     func()
}

// openStores connects to Postgres, or falls back to the in-process store when
// no DSN is configured.
func openStores(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*stores, error) {
	if cfg.DSN == "" {
		log.Warn("database.dsn is empty; using the in-process store, data is lost on exit")
		m := memdb.New()
		return &stores{docs: m, audit: m, transitions: m, stats: m, snapshots: m, ping: m.Ping, close: func() {}}, nil
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DSN); err != nil {
			return nil, err
		}
	}
	database, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &stores{
		docs:        database.Documents,
		audit:       database.Audit,
		transitions: database.Workflow,
		stats:       database.Stats,
		snapshots:   database.Snapshots,
		ping:        database.Ping,
		close:       database.Close,
	}, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Must("production", "docauth-api").Fatal("failed to load config", zap.Error(err))
	}
	log := logger.Must(cfg.App.Env, "docauth-api")
	defer func() { _ = log.Sync() }()

	if _, err := maxprocs.Set(maxprocs.Logger(log.Sugar().Infof)); err != nil {
		log.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	secret, err := kms.ResolveSecret(cfg.Ledger.Secret, cfg.Ledger.SecretEnc, cfg.KMS.Key)
	if err != nil {
		log.Fatal("failed to resolve ledger secret", zap.Error(err))
	}

	// 1. Init stores
	st, err := openStores(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer st.close()

	// 2. Init metrics and alerting
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var notifier notifications.Notifier = notifications.NewLogNotifier(log)
	if cfg.Ledger.NotifyWebhook != "" {
		notifier = notifications.Multi{notifier, notifications.NewSlackNotifier(cfg.Ledger.NotifyWebhook)}
	}

	// 3. Init services
	l, err := ledger.New(st.audit, secret, notifier, m, log)
	if err != nil {
		log.Fatal("failed to init ledger", zap.Error(err))
	}
	defer l.Flush()

	strategy, err := versions.SelectStrategy(ctx, st.docs, cfg.Versions.Strategy, cfg.Versions.MaxRetries, m, log)
	if err != nil {
		log.Fatal("failed to select version strategy", zap.Error(err))
	}
	initial, err := models.ParseWorkflowStatus(cfg.Versions.InitialStatus)
	if err != nil {
		log.Fatal("invalid versions.initial_status", zap.Error(err))
	}

	// 4. Init storage (snapshot download) and queue (async verification)
	archive, err := storage.Open(ctx, cfg.Storage, cfg.S3)
	if err != nil {
		log.Fatal("failed to init storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer queueClient.Close()

	h := handlers.New(handlers.Deps{
		Versions:      versions.NewService(st.docs, strategy, l, initial, m, log),
		Workflow:      workflow.New(st.docs, st.transitions, l, workflow.PolicyFor(cfg.Workflow.Strict), m, log),
		Ledger:        l,
		Verifier:      verification.New(st.docs, st.stats, l, m, log),
		Stats:         st.stats,
		Counts:        st.docs,
		Snapshots:     st.snapshots,
		Archive:       archive,
		Queue:         queueClient,
		PublicBaseURL: cfg.App.PublicBaseURL,
		Checks: map[string]func(context.Context) error{
			"database": st.ping,
			"redis": func(ctx context.Context) error {
				conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", cfg.Redis.Addr)
				if err != nil {
					return err
				}
				return conn.Close()
			},
		},
		Version: cfg.App.Version,
		Log:     log,
	})

	// 5. Init Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(apimw.RequestID())
	e.Use(apimw.SecurityHeaders())
	e.Use(apimw.RequestLogger(log))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderAccept},
		MaxAge:       3600,
	}))
	e.Use(echomw.GzipWithConfig(echomw.GzipConfig{Level: 5}))

	routes.Register(e, h, cfg.JWT.Secret, cfg.App.RateLimit, reg)

	// 6. Start server
	go func() {
		addr := ":" + strconv.Itoa(cfg.App.Port)
		log.Info("api listening", zap.String("addr", addr), zap.String("versions_mode", strategy.Name()))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(ctxShutdown); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
}
