package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"deployment-orchestrator-go/internal/domain"
)

// MaintenanceLogStore appends maintenance entries. The table is append-only;
// operators read it directly when diagnosing sweeps and rollbacks.
type MaintenanceLogStore struct {
	pool *pgxpool.Pool
}

// NewMaintenanceLogStore creates a maintenance log store.
func NewMaintenanceLogStore(pool *pgxpool.Pool) *MaintenanceLogStore {
	return &MaintenanceLogStore{pool: pool}
}

// Record appends one entry.
func (s *MaintenanceLogStore) Record(ctx context.Context, e domain.MaintenanceEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	query := `
		INSERT INTO maintenance_logs (id, deployment_id, owner_id, action, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query, e.ID, e.DeploymentID, e.OwnerID, e.Action, e.Reason)
	if err != nil {
		return fmt.Errorf("insert maintenance entry: %w", err)
	}
	return nil
}

// ListByDeployment returns the entries for one deployment, newest first.
func (s *MaintenanceLogStore) ListByDeployment(ctx context.Context, deploymentID string) ([]domain.MaintenanceEntry, error) {
	query := `
		SELECT id, deployment_id, owner_id, action, reason, created_at
		FROM maintenance_logs
		WHERE deployment_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query maintenance entries: %w", err)
	}
	defer rows.Close()

	var out []domain.MaintenanceEntry
	for rows.Next() {
		var e domain.MaintenanceEntry
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.OwnerID, &e.Action, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan maintenance entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate maintenance entries: %w", err)
	}
	return out, nil
}
