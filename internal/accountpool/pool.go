// Package accountpool hands out hosting accounts with confirmed spare
// capacity. Selection shuffles the active accounts and probes each one
// against the remote provider: the remote count is the source of truth, the
// cached counter is informational only.
package accountpool

import (
	"context"
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/api/middleware"
	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/heroku"
)

// ErrNoCapacity means no active account had spare quota. Callers fail the
// request; the pool never retries on its own.
var ErrNoCapacity = errors.New("no hosting account with spare capacity")

// Store persists hosting account rows. Updates are single-field,
// last-writer-wins; no cross-account transaction is needed.
type Store interface {
	// ListActive returns all accounts currently usable for allocation.
	ListActive(ctx context.Context) ([]domain.HostingAccount, error)
	// RecordCapacity stores a confirmed remote usage count and stamps
	// last_checked_at.
	RecordCapacity(ctx context.Context, credential string, used int) error
	// RecordFailure increments the failure counter and stamps last_failed_at.
	RecordFailure(ctx context.Context, credential, reason string) error
	// Deactivate takes the account out of the pool until an operator
	// re-validates it. The row is never deleted.
	Deactivate(ctx context.Context, credential, reason string) error
	// MarkUsed stamps last_used_at after a successful allocation.
	MarkUsed(ctx context.Context, credential string) error
}

// CapacityProber is the slice of the provider API the pool needs.
type CapacityProber interface {
	AppsCount(ctx context.Context, credential string) (int, error)
}

// Pool selects usable accounts and keeps their health state current.
type Pool struct {
	store  Store
	prober CapacityProber
	logger *zap.Logger
}

// New creates an account pool.
func New(store Store, prober CapacityProber, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		store:  store,
		prober: prober,
		logger: logger,
	}
}

// SelectUsableAccount returns an active account with confirmed spare
// capacity, or ErrNoCapacity when every candidate is exhausted.
//
// Candidates are visited in random order so no account is systematically
// starved or overused. Per candidate:
//   - unauthorized probe → deactivate and move on (out of the pool until
//     re-validated)
//   - transient probe error → skip for this call only, account stays active
//   - confirmed usage below the limit → record the snapshot and return
func (p *Pool) SelectUsableAccount(ctx context.Context) (*domain.HostingAccount, error) {
	accounts, err := p.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	rand.Shuffle(len(accounts), func(i, j int) {
		accounts[i], accounts[j] = accounts[j], accounts[i]
	})

	for i := range accounts {
		account := &accounts[i]

		count, err := p.prober.AppsCount(ctx, account.Credential)
		if err != nil {
			if heroku.IsUnauthorized(err) {
				p.logger.Warn("deactivating account with invalid credential",
					zap.String("credential", redact(account.Credential)),
					zap.Error(err))
				if derr := p.store.Deactivate(ctx, account.Credential, err.Error()); derr != nil {
					p.logger.Error("failed to deactivate account", zap.Error(derr))
				}
				middleware.AccountsDeactivatedTotal.Inc()
				continue
			}
			// Transient or unclassified: this account may be fine, just not
			// reachable right now.
			p.logger.Warn("capacity probe failed, skipping account",
				zap.String("credential", redact(account.Credential)),
				zap.Error(err))
			continue
		}

		if err := p.store.RecordCapacity(ctx, account.Credential, count); err != nil {
			p.logger.Warn("failed to record capacity snapshot", zap.Error(err))
		}
		account.CapacityUsed = count

		if account.HasCapacity() {
			return account, nil
		}
	}

	return nil, ErrNoCapacity
}

// RecordCapacitySnapshot refreshes an account's confirmed usage count.
func (p *Pool) RecordCapacitySnapshot(ctx context.Context, credential string, used int) error {
	return p.store.RecordCapacity(ctx, credential, used)
}

// RecordFailure bumps the account's failure bookkeeping after a remote step
// failed under it.
func (p *Pool) RecordFailure(ctx context.Context, credential, reason string) error {
	return p.store.RecordFailure(ctx, credential, reason)
}

// Deactivate removes the account from selection until re-validated.
func (p *Pool) Deactivate(ctx context.Context, credential, reason string) error {
	middleware.AccountsDeactivatedTotal.Inc()
	return p.store.Deactivate(ctx, credential, reason)
}

// MarkUsed stamps last_used_at after an allocation.
func (p *Pool) MarkUsed(ctx context.Context, credential string) error {
	return p.store.MarkUsed(ctx, credential)
}

// ListActive exposes the active account set for callers that need a
// fallback credential (deletion, liveness probes).
func (p *Pool) ListActive(ctx context.Context) ([]domain.HostingAccount, error) {
	return p.store.ListActive(ctx)
}

// redact keeps only a short prefix of a credential for log lines.
func redact(credential string) string {
	if len(credential) <= 5 {
		return credential
	}
	return credential[:5] + "..."
}
