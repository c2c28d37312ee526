package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/domain"
)

// WorkloadLister reads the workload catalog.
type WorkloadLister interface {
	List(ctx context.Context) ([]domain.Workload, error)
}

// WorkloadsHandler serves the workload catalog.
type WorkloadsHandler struct {
	catalog WorkloadLister
	logger  *zap.Logger
}

// NewWorkloadsHandler creates a new workloads handler.
func NewWorkloadsHandler(catalog WorkloadLister, logger *zap.Logger) *WorkloadsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkloadsHandler{catalog: catalog, logger: logger}
}

// HandleList handles GET /api/v1/workloads
func (h *WorkloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	workloads, err := h.catalog.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list workloads", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to list workloads")
		return
	}
	if workloads == nil {
		workloads = []domain.Workload{}
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"workloads": workloads})
}
