// Command kwond runs the K-WON compliance and audit backplane: the
// transaction audit pipeline, the policy and risk tool gateway, and the
// monthly compliance orchestrator with its review API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kwonlabs/kwon-backplane/pkg/adapters"
	"github.com/kwonlabs/kwon-backplane/pkg/api"
	"github.com/kwonlabs/kwon-backplane/pkg/artifacts"
	"github.com/kwonlabs/kwon-backplane/pkg/config"
	"github.com/kwonlabs/kwon-backplane/pkg/flow"
	"github.com/kwonlabs/kwon-backplane/pkg/mcp"
	"github.com/kwonlabs/kwon-backplane/pkg/observability"
	"github.com/kwonlabs/kwon-backplane/pkg/policy"
	"github.com/kwonlabs/kwon-backplane/pkg/report"
	"github.com/kwonlabs/kwon-backplane/pkg/review"
	"github.com/kwonlabs/kwon-backplane/pkg/risk"
	"github.com/kwonlabs/kwon-backplane/pkg/scheduler"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
	"github.com/kwonlabs/kwon-backplane/pkg/txaudit"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	// Storage
	if !strings.HasPrefix(cfg.DBURL, "postgres") && strings.Contains(cfg.DBURL, "/") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBURL), 0o755); err != nil {
			return err
		}
	}
	db, driver, err := store.Open(cfg.DBURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	logger.Info("database connected", "driver", driver)

	auditStore, err := store.NewAuditStore(db, driver)
	if err != nil {
		return err
	}
	checkpoints, err := store.NewCheckpointStore(db, driver)
	if err != nil {
		return err
	}
	reviews, err := store.NewReviewStore(db, driver)
	if err != nil {
		return err
	}

	blobs, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		return err
	}

	// Audit pipeline
	var source adapters.TransferSource
	if cfg.UseLocalSfiat {
		source = adapters.NewLocalSource(cfg.LocalAPIBase, cfg.LocalToken, cfg.LocalAddressFilter, logger)
	} else {
		source = adapters.NewEtherscanSource(cfg.EtherscanBaseURL, cfg.EtherscanAPIKey, cfg.USDTContract, logger)
	}
	ingestor := txaudit.NewIngestor(auditStore, source, txaudit.IngestorConfig{
		MaxPages:   cfg.CollectMaxPages,
		MaxSeconds: cfg.CollectMaxSeconds,
		PageSize:   cfg.EtherscanOffset,
		RateSleep:  cfg.EtherscanRateSleep,
		RemoteMode: !cfg.UseLocalSfiat,
	}, logger)

	anchorWriter := adapters.NewMockAnchorWriter(cfg.AnchorTxPrefix)
	anchorer := txaudit.NewAnchorer(auditStore, anchorWriter, cfg.AnchorChain, logger)
	batcher := txaudit.NewBatcher(auditStore, anchorer, logger)
	packs := txaudit.NewPackBuilder(auditStore, blobs, logger)

	auditTools := &txaudit.Toolset{
		Store:     auditStore,
		Ingestors: []*txaudit.Ingestor{ingestor},
		Batcher:   batcher,
		Anchorer:  anchorer,
		Packs:     packs,
		Logger:    logger,
	}

	// Policy and risk
	policyCfg, err := policy.LoadConfig(cfg.PolicyConfigPath)
	if err != nil {
		return err
	}
	engine, err := policy.NewEngine(policyCfg, logger)
	if err != nil {
		return err
	}

	var cache *risk.SnapshotCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache = risk.NewSnapshotCache(rdb, 0)
		logger.Info("realtime risk cache enabled", "addr", cfg.RedisAddr)
	}
	riskTools := risk.NewToolset(engine, cache, logger)

	// Monthly orchestrator
	var metrics adapters.MetricSource
	if cfg.MetricsPath != "" {
		metrics = adapters.NewFileMetricSource(cfg.MetricsPath)
	} else {
		metrics = &adapters.StaticMetricSource{}
		logger.Warn("METRICS_PATH not set, monthly runs will degrade to fallback grades")
	}
	notifier := adapters.NewLogNotifier(logger)
	reports := report.NewDocxWriter(cfg.ReportTemplatePath, blobs, logger)

	graph := flow.NewMonthlyGraph(flow.MonthlyDeps{
		Metrics:  metrics,
		Reports:  reports,
		Notifier: notifier,
		Logger:   logger,
	})
	monthly := flow.NewMonthlyService(graph, checkpoints, reviews, notifier, logger).
		WithLimits(cfg.MaxRevisions, cfg.MaxRetriesDataLoad)

	// HTTP surface
	gateway := mcp.NewGateway(logger)
	auditTools.Register(gateway)
	riskTools.Register(gateway)

	var auth *review.Auth
	if cfg.ReviewJWTSecret != "" {
		auth = review.NewAuth(cfg.ReviewJWTSecret, reviews)
	} else {
		logger.Warn("REVIEW_JWT_SECRET not set, review API is unauthenticated")
	}

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux)
	review.NewHandler(reviews, monthly, auth, logger).RegisterRoutes(mux)
	if auth != nil {
		auth.RegisterRoutes(mux)
	}

	limiter := api.NewGlobalRateLimiter(50, 100)
	handler := limiter.Middleware(api.LogRequests(logger, mux))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background loops
	sched := scheduler.New(logger)
	sched.Add(scheduler.NewIngestJob(ingestor, cfg.PollInterval, logger))
	sched.Add(scheduler.NewMerkleJob(batcher, cfg.MerkleMinPending, cfg.MerkleBatchLimit, cfg.MerkleBatchMode, cfg.MerklePollInterval, logger))
	sched.Add(scheduler.NewMonthlyKickoffJob(monthly, reviews, 24*time.Hour, nil, logger))
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr, "tools", gateway.ToolNames())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
