package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeploymentStatus is the lifecycle state of a deployment row.
type DeploymentStatus string

const (
	StatusPending DeploymentStatus = "pending"
	StatusActive  DeploymentStatus = "active"
	StatusFailed  DeploymentStatus = "failed"
	StatusDeleted DeploymentStatus = "deleted"
)

// legalTransitions enumerates the only allowed status changes. Anything else
// is a concurrent-state conflict and must be rejected, not overwritten.
var legalTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending: {StatusActive, StatusFailed},
	StatusActive:  {StatusDeleted},
	StatusFailed:  {StatusDeleted},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to DeploymentStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Deployment is the durable record of one workload's attempt to run under one
// hosting account.
type Deployment struct {
	ID              string           `json:"id"`
	OwnerID         string           `json:"owner_id"`
	WorkloadID      string           `json:"workload_id"`
	RequestedName   string           `json:"requested_name"`
	RemoteName      string           `json:"remote_name"`
	Status          DeploymentStatus `json:"status"`
	AssignedAccount string           `json:"assigned_account"`
	// Parameters are the workload's runtime configuration values, kept so a
	// reconciler redeploy can reapply them to the replacement resource.
	Parameters      map[string]string `json:"parameters,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastStatusCheck time.Time         `json:"last_status_checked_at"`
	LastBillingAt   time.Time         `json:"last_billing_charge_at"`
}

// Validate checks that the deployment row is internally consistent.
func (d *Deployment) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("deployment id is required")
	}
	if d.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if d.WorkloadID == "" {
		return fmt.Errorf("workload_id is required")
	}
	if d.RequestedName == "" {
		return fmt.Errorf("requested_name is required")
	}
	if d.Status != StatusDeleted && d.AssignedAccount == "" {
		return fmt.Errorf("assigned_account is required for status %q", d.Status)
	}
	return nil
}

// DeriveRemoteName builds the provider-side app name from a user-chosen name:
// lowercase, anything outside [a-z0-9-] replaced with '-', plus the platform
// suffix. The provider enforces uniqueness of the result.
func DeriveRemoteName(requested, suffix string) string {
	name := strings.ToLower(requested + suffix)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
