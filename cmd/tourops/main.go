package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tourops/tourops/internal/app"
	"github.com/tourops/tourops/internal/auth"
	"github.com/tourops/tourops/internal/insights"
	insightshttp "github.com/tourops/tourops/internal/insights/http"
	"github.com/tourops/tourops/internal/observability"
	"github.com/tourops/tourops/internal/platform/cache"
	"github.com/tourops/tourops/internal/platform/db"
	"github.com/tourops/tourops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var insightsCache *insights.Cache
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, insights cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		insightsCache = insights.NewCache(redisClient, cfg.InsightsCacheTTL)
		if err := insightsCache.ListenForInvalidation(ctx, ""); err != nil {
			logger.Warn("subscribe insights invalidation", slog.Any("error", err))
		}
	}

	metrics := observability.NewMetrics()

	insightsService := insights.NewService(insights.NewPostgresRepository(dbpool), insightsCache, insights.ServiceConfig{
		Location:    cfg.Location(),
		Concurrency: cfg.InsightsFetchConcurrency,
		Recorder:    metrics,
	})
	scopeResolver := auth.NewScopeResolver(dbpool, cfg.GlobalRoles)
	insightsHandler := insightshttp.NewHandler(logger, insightsService, scopeResolver, cfg.AppRequestTimeout)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		InsightsHandler: insightsHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
