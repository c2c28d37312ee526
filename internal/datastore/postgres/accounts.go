package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"deployment-orchestrator-go/internal/domain"
)

// AccountStore is the PostgreSQL implementation of accountpool.Store.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an account store.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// ListActive returns all accounts currently usable for allocation.
func (s *AccountStore) ListActive(ctx context.Context) ([]domain.HostingAccount, error) {
	query := `
		SELECT credential, active, capacity_used, capacity_limit,
			   consecutive_failures, error_message,
			   last_checked_at, last_failed_at, last_used_at
		FROM hosting_accounts
		WHERE active = true
		ORDER BY last_used_at ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query hosting accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.HostingAccount
	for rows.Next() {
		var a domain.HostingAccount
		if err := rows.Scan(
			&a.Credential, &a.Active, &a.CapacityUsed, &a.CapacityLimit,
			&a.ConsecutiveFailures, &a.ErrorMessage,
			&a.LastCheckedAt, &a.LastFailedAt, &a.LastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("scan hosting account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hosting accounts: %w", err)
	}
	return out, nil
}

// RecordCapacity stores a confirmed remote usage count.
func (s *AccountStore) RecordCapacity(ctx context.Context, credential string, used int) error {
	query := `
		UPDATE hosting_accounts
		SET capacity_used = $2, last_checked_at = now()
		WHERE credential = $1
	`
	_, err := s.pool.Exec(ctx, query, credential, used)
	if err != nil {
		return fmt.Errorf("record capacity: %w", err)
	}
	return nil
}

// RecordFailure bumps the failure counter and keeps the latest reason.
func (s *AccountStore) RecordFailure(ctx context.Context, credential, reason string) error {
	query := `
		UPDATE hosting_accounts
		SET consecutive_failures = consecutive_failures + 1,
			error_message = $2,
			last_failed_at = now()
		WHERE credential = $1
	`
	_, err := s.pool.Exec(ctx, query, credential, reason)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Deactivate takes the account out of the pool. The row stays for operator
// review and possible re-validation.
func (s *AccountStore) Deactivate(ctx context.Context, credential, reason string) error {
	query := `
		UPDATE hosting_accounts
		SET active = false,
			error_message = $2,
			last_failed_at = now()
		WHERE credential = $1
	`
	_, err := s.pool.Exec(ctx, query, credential, reason)
	if err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	return nil
}

// MarkUsed stamps last_used_at and clears the failure streak.
func (s *AccountStore) MarkUsed(ctx context.Context, credential string) error {
	query := `
		UPDATE hosting_accounts
		SET last_used_at = now(), consecutive_failures = 0
		WHERE credential = $1
	`
	_, err := s.pool.Exec(ctx, query, credential)
	if err != nil {
		return fmt.Errorf("mark account used: %w", err)
	}
	return nil
}
