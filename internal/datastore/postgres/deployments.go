package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/ledger"
)

// DeploymentStore is the PostgreSQL implementation of ledger.Store. Every
// status transition is a single UPDATE guarded by the current status, so two
// writers racing on one row cannot both win.
type DeploymentStore struct {
	pool *pgxpool.Pool
}

// NewDeploymentStore creates a deployment store.
func NewDeploymentStore(pool *pgxpool.Pool) *DeploymentStore {
	return &DeploymentStore{pool: pool}
}

const deploymentColumns = `
	id, owner_id, workload_id, requested_name, remote_name, status,
	assigned_account, parameters, error_message,
	created_at, last_status_checked_at, last_billing_charge_at`

// Create inserts a new pending row.
func (s *DeploymentStore) Create(ctx context.Context, d *domain.Deployment) error {
	if err := d.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (
			id, owner_id, workload_id, requested_name, remote_name, status,
			assigned_account, parameters
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		d.ID, d.OwnerID, d.WorkloadID, d.RequestedName, d.RemoteName, d.Status,
		d.AssignedAccount, d.Parameters,
	)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// Get returns the row for id, or ledger.ErrNotFound.
func (s *DeploymentStore) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, id))
}

// ListByOwner returns all non-deleted rows for an owner, newest first.
func (s *DeploymentStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Deployment, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE owner_id = $1 AND status != 'deleted'
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	return s.scanMany(rows)
}

// MarkActive transitions pending → active.
func (s *DeploymentStore) MarkActive(ctx context.Context, id string) error {
	query := `
		UPDATE deployments
		SET status = 'active', last_status_checked_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	return s.guardedUpdate(ctx, id, query, id)
}

// MarkFailed transitions pending → failed and records the step error.
func (s *DeploymentStore) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE deployments
		SET status = 'failed', error_message = $2
		WHERE id = $1 AND status = 'pending'
	`
	return s.guardedUpdate(ctx, id, query, id, errorMessage)
}

// MarkDeleted transitions active|failed → deleted.
func (s *DeploymentStore) MarkDeleted(ctx context.Context, id string) error {
	query := `
		UPDATE deployments
		SET status = 'deleted'
		WHERE id = $1 AND status IN ('active', 'failed')
	`
	return s.guardedUpdate(ctx, id, query, id)
}

// RecordRedeployment swaps account and remote name on an active row.
func (s *DeploymentStore) RecordRedeployment(ctx context.Context, id, credential, remoteName string) error {
	query := `
		UPDATE deployments
		SET assigned_account = $2, remote_name = $3, last_status_checked_at = now()
		WHERE id = $1 AND status = 'active'
	`
	return s.guardedUpdate(ctx, id, query, id, credential, remoteName)
}

// TouchStatusCheck stamps last_status_checked_at on an active row.
func (s *DeploymentStore) TouchStatusCheck(ctx context.Context, id string) error {
	query := `
		UPDATE deployments
		SET last_status_checked_at = now()
		WHERE id = $1 AND status = 'active'
	`
	return s.guardedUpdate(ctx, id, query, id)
}

// TouchBillingCharge stamps last_billing_charge_at on an active row.
func (s *DeploymentStore) TouchBillingCharge(ctx context.Context, id string) error {
	query := `
		UPDATE deployments
		SET last_billing_charge_at = now()
		WHERE id = $1 AND status = 'active'
	`
	return s.guardedUpdate(ctx, id, query, id)
}

// ListMaintenancePage returns a page of active rows, oldest first.
func (s *DeploymentStore) ListMaintenancePage(ctx context.Context, limit, offset int) ([]domain.Deployment, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE status = 'active'
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query maintenance page: %w", err)
	}
	defer rows.Close()

	return s.scanMany(rows)
}

// guardedUpdate runs a status-guarded UPDATE. Zero rows touched means the
// row either does not exist or sits in a state the transition forbids.
func (s *DeploymentStore) guardedUpdate(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM deployments WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check deployment existence: %w", err)
	}
	if !exists {
		return ledger.ErrNotFound
	}
	return ledger.ErrStateConflict
}

func (s *DeploymentStore) scanOne(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.WorkloadID, &d.RequestedName, &d.RemoteName, &d.Status,
		&d.AssignedAccount, &d.Parameters, &d.ErrorMessage,
		&d.CreatedAt, &d.LastStatusCheck, &d.LastBillingAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan deployment: %w", err)
	}
	return &d, nil
}

func (s *DeploymentStore) scanMany(rows pgx.Rows) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(
			&d.ID, &d.OwnerID, &d.WorkloadID, &d.RequestedName, &d.RemoteName, &d.Status,
			&d.AssignedAccount, &d.Parameters, &d.ErrorMessage,
			&d.CreatedAt, &d.LastStatusCheck, &d.LastBillingAt,
		); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return out, nil
}
