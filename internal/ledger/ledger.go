// Package ledger owns the durable record of deployment lifecycles. Status
// changes are compare-and-swap operations: the store enforces the legal
// transition table as a precondition and rejects everything else, so a
// user-initiated delete and a reconciler-initiated redeploy can never both
// succeed against contradictory assumptions.
package ledger

import (
	"context"
	"errors"

	"deployment-orchestrator-go/internal/domain"
)

var (
	// ErrNotFound means no deployment row exists for the given id.
	ErrNotFound = errors.New("deployment not found")
	// ErrStateConflict means a status transition was attempted from a row
	// already in an incompatible state. Never silently overwritten.
	ErrStateConflict = errors.New("deployment state conflict")
)

// Store is the deployment ledger. Implementations must perform each Mark*
// as a single atomic read-modify-write keyed on the current status.
type Store interface {
	// Create inserts a new row; the status must be pending.
	Create(ctx context.Context, d *domain.Deployment) error
	// Get returns the row for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	// ListByOwner returns all non-deleted rows for an owner, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Deployment, error)

	// MarkActive transitions pending → active.
	MarkActive(ctx context.Context, id string) error
	// MarkFailed transitions pending → failed and records the step error.
	MarkFailed(ctx context.Context, id, errorMessage string) error
	// MarkDeleted transitions active|failed → deleted.
	MarkDeleted(ctx context.Context, id string) error

	// RecordRedeployment swaps the assigned account and remote name of an
	// active row after the reconciler re-provisioned it, and stamps the
	// status check time. The old remote resource is gone; this is a new
	// assignment, not a mutation of live remote state.
	RecordRedeployment(ctx context.Context, id, credential, remoteName string) error
	// TouchStatusCheck stamps last_status_checked_at on an active row.
	TouchStatusCheck(ctx context.Context, id string) error
	// TouchBillingCharge stamps last_billing_charge_at on an active row.
	TouchBillingCharge(ctx context.Context, id string) error

	// ListMaintenancePage returns a page of active rows ordered by creation
	// time, for the reconciler's sweep.
	ListMaintenancePage(ctx context.Context, limit, offset int) ([]domain.Deployment, error)
}
