package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"deployment-orchestrator-go/internal/domain"
)

// Memory is an in-memory Store. It backs tests and local development; the
// transition rules are identical to the Postgres implementation.
type Memory struct {
	mu   sync.Mutex
	rows map[string]domain.Deployment
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]domain.Deployment)}
}

// Seed inserts a row as-is, bypassing transition checks. Test setup only.
func (m *Memory) Seed(d domain.Deployment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[d.ID] = d
}

// Create inserts a new pending row.
func (m *Memory) Create(_ context.Context, d *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rows[d.ID]; exists {
		return ErrStateConflict
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.rows[d.ID] = *d
	return nil
}

// Get returns a copy of the row for id.
func (m *Memory) Get(_ context.Context, id string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

// ListByOwner returns all non-deleted rows for an owner, newest first.
func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Deployment
	for _, row := range m.rows {
		if row.OwnerID == ownerID && row.Status != domain.StatusDeleted {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkActive transitions pending → active.
func (m *Memory) MarkActive(_ context.Context, id string) error {
	return m.transition(id, domain.StatusActive, func(row *domain.Deployment) {
		row.LastStatusCheck = time.Now()
	})
}

// MarkFailed transitions pending → failed with the triggering error.
func (m *Memory) MarkFailed(_ context.Context, id, errorMessage string) error {
	return m.transition(id, domain.StatusFailed, func(row *domain.Deployment) {
		row.ErrorMessage = errorMessage
	})
}

// MarkDeleted transitions active|failed → deleted.
func (m *Memory) MarkDeleted(_ context.Context, id string) error {
	return m.transition(id, domain.StatusDeleted, nil)
}

func (m *Memory) transition(id string, to domain.DeploymentStatus, mutate func(*domain.Deployment)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if !domain.CanTransition(row.Status, to) {
		return ErrStateConflict
	}
	row.Status = to
	if mutate != nil {
		mutate(&row)
	}
	m.rows[id] = row
	return nil
}

// RecordRedeployment swaps account/remote name on an active row.
func (m *Memory) RecordRedeployment(_ context.Context, id, credential, remoteName string) error {
	return m.updateActive(id, func(row *domain.Deployment) {
		row.AssignedAccount = credential
		row.RemoteName = remoteName
		row.LastStatusCheck = time.Now()
	})
}

// TouchStatusCheck stamps last_status_checked_at on an active row.
func (m *Memory) TouchStatusCheck(_ context.Context, id string) error {
	return m.updateActive(id, func(row *domain.Deployment) {
		row.LastStatusCheck = time.Now()
	})
}

// TouchBillingCharge stamps last_billing_charge_at on an active row.
func (m *Memory) TouchBillingCharge(_ context.Context, id string) error {
	return m.updateActive(id, func(row *domain.Deployment) {
		row.LastBillingAt = time.Now()
	})
}

func (m *Memory) updateActive(id string, mutate func(*domain.Deployment)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != domain.StatusActive {
		return ErrStateConflict
	}
	mutate(&row)
	m.rows[id] = row
	return nil
}

// ListMaintenancePage returns a page of active rows ordered by creation time.
func (m *Memory) ListMaintenancePage(_ context.Context, limit, offset int) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []domain.Deployment
	for _, row := range m.rows {
		if row.Status == domain.StatusActive {
			active = append(active, row)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })

	if offset >= len(active) {
		return nil, nil
	}
	end := offset + limit
	if end > len(active) {
		end = len(active)
	}
	return active[offset:end], nil
}
