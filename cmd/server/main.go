package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deployment-orchestrator-go/internal/accountpool"
	"deployment-orchestrator-go/internal/api"
	"deployment-orchestrator-go/internal/billing"
	"deployment-orchestrator-go/internal/config"
	"deployment-orchestrator-go/internal/datastore/postgres"
	"deployment-orchestrator-go/internal/deleter"
	"deployment-orchestrator-go/internal/heroku"
	"deployment-orchestrator-go/internal/notify"
	"deployment-orchestrator-go/internal/provisioner"
	"deployment-orchestrator-go/internal/reconciler"
	"deployment-orchestrator-go/internal/redisclient"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting deployment orchestrator",
		zap.String("version", cfg.AppVersion),
	)

	// Stores
	pool, err := postgres.NewPool(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("Connected to PostgreSQL")

	redisClient, err := redisclient.NewClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis connection", zap.Error(err))
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Info("Connected to Redis")

	deployments := postgres.NewDeploymentStore(pool)
	accounts := postgres.NewAccountStore(pool)
	workloads := postgres.NewWorkloadStore(pool)
	maintlog := postgres.NewMaintenanceLogStore(pool)

	// Clients
	provider := heroku.NewClient(cfg.ProviderBaseURL, cfg.ProviderTimeout, logger)
	wallet := billing.NewClient(cfg.BillingBaseURL, cfg.BillingToken, cfg.BillingTimeout)
	reservations := redisclient.NewReservations(redisClient, cfg.NameReservationTTL)
	notifier := notify.NewLogNotifier(logger)

	// Components
	accountPool := accountpool.New(accounts, provider, logger)
	workflow := provisioner.New(accountPool, deployments, provider, workloads,
		reservations, maintlog, cfg.RemoteNameSuffix, logger)
	deletionService := deleter.New(deployments, accountPool, provider, logger)
	sweep := reconciler.New(deployments, provider, accountPool, workflow,
		deletionService, wallet, workloads, maintlog, notifier, reconciler.Options{
			SweepInterval:   cfg.SweepInterval,
			StalenessWindow: cfg.StalenessWindow,
			BillingInterval: cfg.BillingInterval,
			PageSize:        cfg.SweepPageSize,
			ItemDelay:       cfg.SweepItemDelay,
		}, logger)

	router := api.NewRouter(workflow, deletionService, deployments, workloads,
		accountPool, pool, redisClient, cfg, logger)

	httpServer := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		logger.Info("Starting maintenance reconciler",
			zap.Duration("interval", cfg.SweepInterval))
		sweep.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		logger.Info("HTTP server shut down gracefully")
	}

	logger.Info("Deployment orchestrator shutdown complete")
}

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.LogFormat == "console" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return zcfg.Build()
}
