package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deployment-orchestrator-go/internal/domain"
)

// WorkloadStore reads the workload catalog.
type WorkloadStore struct {
	pool *pgxpool.Pool
}

// NewWorkloadStore creates a workload store.
func NewWorkloadStore(pool *pgxpool.Pool) *WorkloadStore {
	return &WorkloadStore{pool: pool}
}

// Get returns the workload for id, or domain.ErrWorkloadNotFound.
func (s *WorkloadStore) Get(ctx context.Context, id string) (*domain.Workload, error) {
	query := `
		SELECT id, name, source_tarball, recurring_cost
		FROM workloads
		WHERE id = $1
	`
	var w domain.Workload
	err := s.pool.QueryRow(ctx, query, id).Scan(&w.ID, &w.Name, &w.SourceTarball, &w.RecurringCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWorkloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workload: %w", err)
	}
	return &w, nil
}

// List returns the whole catalog, for the listing endpoint.
func (s *WorkloadStore) List(ctx context.Context) ([]domain.Workload, error) {
	query := `
		SELECT id, name, source_tarball, recurring_cost
		FROM workloads
		ORDER BY name ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query workloads: %w", err)
	}
	defer rows.Close()

	var out []domain.Workload
	for rows.Next() {
		var w domain.Workload
		if err := rows.Scan(&w.ID, &w.Name, &w.SourceTarball, &w.RecurringCost); err != nil {
			return nil, fmt.Errorf("scan workload: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workloads: %w", err)
	}
	return out, nil
}
