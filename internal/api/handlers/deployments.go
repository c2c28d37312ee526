package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/deleter"
	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/ledger"
)

// Deleter tears a deployment down.
type Deleter interface {
	Delete(ctx context.Context, deploymentID string) (*deleter.Outcome, error)
}

// LedgerReader is the read side of the deployment ledger.
type LedgerReader interface {
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Deployment, error)
}

// DeploymentsHandler handles deployment reads and deletion.
type DeploymentsHandler struct {
	reader  LedgerReader
	deleter Deleter
	logger  *zap.Logger
}

// NewDeploymentsHandler creates a new deployments handler.
func NewDeploymentsHandler(reader LedgerReader, del Deleter, logger *zap.Logger) *DeploymentsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeploymentsHandler{
		reader:  reader,
		deleter: del,
		logger:  logger,
	}
}

// HandleGet handles GET /api/v1/deployments/{deployment_id}
func (h *DeploymentsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deployment_id")

	dep, err := h.reader.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "deployment not found")
			return
		}
		h.logger.Error("failed to load deployment", zap.String("deployment_id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to load deployment")
		return
	}

	respondWithJSON(w, http.StatusOK, dep)
}

// HandleList handles GET /api/v1/deployments?owner_id=...
func (h *DeploymentsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		respondWithError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	deployments, err := h.reader.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to list deployments", zap.String("owner_id", ownerID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"owner_id":    ownerID,
		"deployments": deployments,
	})
}

// HandleDelete handles DELETE /api/v1/deployments/{deployment_id}
func (h *DeploymentsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deployment_id")

	outcome, err := h.deleter.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "deployment not found")
			return
		}
		h.logger.Error("deletion failed", zap.String("deployment_id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "deletion failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"deployment_id":  outcome.DeploymentID,
		"remote_deleted": outcome.RemoteDeleted,
	})
}
