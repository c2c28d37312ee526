package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/accountpool"
	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/provisioner"
)

// Provisioner runs the deployment workflow.
type Provisioner interface {
	Provision(ctx context.Context, req provisioner.Request) (*provisioner.Result, error)
}

// ProvisionHandler handles deployment creation requests.
type ProvisionHandler struct {
	workflow Provisioner
	logger   *zap.Logger
}

// NewProvisionHandler creates a new provision handler.
func NewProvisionHandler(workflow Provisioner, logger *zap.Logger) *ProvisionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvisionHandler{
		workflow: workflow,
		logger:   logger,
	}
}

type provisionRequest struct {
	OwnerID       string            `json:"owner_id"`
	WorkloadID    string            `json:"workload_id"`
	RequestedName string            `json:"requested_name"`
	Parameters    map[string]string `json:"parameters"`
}

// Handle handles POST /api/v1/deployments
func (h *ProvisionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req provisionRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode provision request", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wfReq := provisioner.Request{
		OwnerID:       req.OwnerID,
		WorkloadID:    req.WorkloadID,
		RequestedName: req.RequestedName,
		Parameters:    req.Parameters,
	}
	if err := wfReq.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.workflow.Provision(ctx, wfReq)
	if err != nil {
		h.logger.Error("provisioning failed",
			zap.Error(err),
			zap.String("owner_id", req.OwnerID),
			zap.String("requested_name", req.RequestedName),
		)

		var stepErr *provisioner.StepError
		switch {
		case errors.Is(err, accountpool.ErrNoCapacity):
			respondWithError(w, http.StatusServiceUnavailable, "no hosting capacity available")
		case errors.Is(err, provisioner.ErrNameTaken):
			respondWithError(w, http.StatusConflict, "name is being provisioned by another request")
		case errors.Is(err, domain.ErrWorkloadNotFound):
			respondWithError(w, http.StatusNotFound, "unknown workload")
		case errors.As(err, &stepErr):
			respondWithJSON(w, http.StatusBadGateway, map[string]any{
				"error":         "provisioning failed at " + stepErr.Step,
				"deployment_id": stepErr.DeploymentID,
			})
		default:
			respondWithError(w, http.StatusInternalServerError, "provisioning failed")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"deployment_id": result.DeploymentID,
		"remote_name":   result.RemoteName,
	})
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// respondWithError sends an error JSON response
func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
