package domain

import (
	"errors"
	"time"
)

// ErrWorkloadNotFound means no catalog entry exists for a workload id.
var ErrWorkloadNotFound = errors.New("workload not found")

// HostingAccount is one third-party hosting credential ("key") with a fixed
// quota of remote resources it may own. Rows are never deleted; a credential
// that fails auth is deactivated and stays out of selection until an operator
// re-validates it.
type HostingAccount struct {
	Credential          string    `json:"credential"`
	Active              bool      `json:"active"`
	CapacityUsed        int       `json:"capacity_used"`
	CapacityLimit       int       `json:"capacity_limit"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ErrorMessage        string    `json:"error_message,omitempty"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	LastFailedAt        time.Time `json:"last_failed_at"`
	LastUsedAt          time.Time `json:"last_used_at"`
}

// HasCapacity reports whether the last confirmed probe left room for at
// least one more resource.
func (a *HostingAccount) HasCapacity() bool {
	return a.CapacityUsed < a.CapacityLimit
}

// Workload describes a deployable unit from the catalog: where its source
// lives and what it costs to keep running.
type Workload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SourceTarball string `json:"source_tarball"`
	RecurringCost int64  `json:"recurring_cost"`
}

// MaintenanceEntry is one row of the maintenance audit log, written by the
// reconciler and the rollback path.
type MaintenanceEntry struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	OwnerID      string    `json:"owner_id"`
	Action       string    `json:"action"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// Maintenance log actions and reasons.
const (
	ActionDelete         = "delete"
	ActionRedeploy       = "redeploy"
	ActionRollbackFailed = "rollback_delete_failed"

	ReasonInsufficientFunds = "insufficient_funds"
	ReasonInactiveRemote    = "inactive_remote"
)
