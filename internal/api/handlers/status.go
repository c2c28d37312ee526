package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/config"
	"deployment-orchestrator-go/internal/domain"
)

// AccountLister exposes the active account set for status reporting.
type AccountLister interface {
	ListActive(ctx context.Context) ([]domain.HostingAccount, error)
}

// StatusHandler reports pool capacity for operators.
type StatusHandler struct {
	accounts AccountLister
	cfg      *config.Config
	logger   *zap.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(accounts AccountLister, cfg *config.Config, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		accounts: accounts,
		cfg:      cfg,
		logger:   logger,
	}
}

type accountStatus struct {
	CapacityUsed        int  `json:"capacity_used"`
	CapacityLimit       int  `json:"capacity_limit"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
	HasCapacity         bool `json:"has_capacity"`
}

// Handle handles GET /api/v1/status
func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListActive(r.Context())
	if err != nil {
		h.logger.Error("failed to list accounts for status", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to read account pool")
		return
	}

	statuses := make([]accountStatus, 0, len(accounts))
	totalUsed, totalLimit := 0, 0
	for _, a := range accounts {
		statuses = append(statuses, accountStatus{
			CapacityUsed:        a.CapacityUsed,
			CapacityLimit:       a.CapacityLimit,
			ConsecutiveFailures: a.ConsecutiveFailures,
			HasCapacity:         a.HasCapacity(),
		})
		totalUsed += a.CapacityUsed
		totalLimit += a.CapacityLimit
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"service":         h.cfg.AppName,
		"version":         h.cfg.AppVersion,
		"active_accounts": len(accounts),
		"capacity_used":   totalUsed,
		"capacity_limit":  totalLimit,
		"accounts":        statuses,
	})
}
