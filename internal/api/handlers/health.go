package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Pinger verifies connectivity to a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health and readiness checks.
type HealthHandler struct {
	postgres Pinger
	redis    Pinger
	logger   *zap.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(postgres, redis Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
		logger:   logger,
	}
}

// HandleHealth handles GET /api/v1/health (liveness probe).
// Returns 200 unconditionally; liveness must not depend on external
// services, otherwise a store outage cascades into restarts.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady handles GET /api/v1/ready (readiness probe). Both stores must
// answer before the service takes traffic.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.postgres.Ping(ctx); err != nil {
		h.logger.Error("readiness check failed: postgres unavailable", zap.Error(err))
		respondWithError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	if err := h.redis.Ping(ctx); err != nil {
		h.logger.Error("readiness check failed: redis unavailable", zap.Error(err))
		respondWithError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
