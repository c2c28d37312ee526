package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/api/handlers"
	"deployment-orchestrator-go/internal/api/middleware"
	"deployment-orchestrator-go/internal/config"
)

// NewRouter creates a Chi router with all routes and middleware configured.
func NewRouter(
	workflow handlers.Provisioner,
	del handlers.Deleter,
	reader handlers.LedgerReader,
	catalog handlers.WorkloadLister,
	accounts handlers.AccountLister,
	postgres handlers.Pinger,
	redis handlers.Pinger,
	cfg *config.Config,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	provisionHandler := handlers.NewProvisionHandler(workflow, logger)
	deploymentsHandler := handlers.NewDeploymentsHandler(reader, del, logger)
	workloadsHandler := handlers.NewWorkloadsHandler(catalog, logger)
	statusHandler := handlers.NewStatusHandler(accounts, cfg, logger)
	healthHandler := handlers.NewHealthHandler(postgres, redis, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/deployments", provisionHandler.Handle)
		r.Get("/deployments", deploymentsHandler.HandleList)
		r.Get("/deployments/{deployment_id}", deploymentsHandler.HandleGet)
		r.Delete("/deployments/{deployment_id}", deploymentsHandler.HandleDelete)

		r.Get("/workloads", workloadsHandler.HandleList)

		r.Get("/status", statusHandler.Handle)

		r.Get("/health", healthHandler.HandleHealth)
		r.Get("/ready", healthHandler.HandleReady)

		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	})

	return r
}
