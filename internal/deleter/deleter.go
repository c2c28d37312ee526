// Package deleter tears down deployments. The local ledger row is always
// transitioned to deleted; the remote resource is removed best-effort by
// trying the assigned account first and then every other active account.
package deleter

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/api/middleware"
	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/heroku"
	"deployment-orchestrator-go/internal/ledger"
)

// Accounts is the slice of the account pool the deleter uses.
type Accounts interface {
	ListActive(ctx context.Context) ([]domain.HostingAccount, error)
	Deactivate(ctx context.Context, credential, reason string) error
}

// Outcome reports how a deletion went. Success covers the local row;
// RemoteDeleted reports whether any credential removed the remote resource.
type Outcome struct {
	DeploymentID  string `json:"deployment_id"`
	RemoteDeleted bool   `json:"remote_deleted"`
}

// Service deletes deployments.
type Service struct {
	ledger   ledger.Store
	accounts Accounts
	provider heroku.API
	logger   *zap.Logger
}

// New creates a deletion service.
func New(store ledger.Store, accounts Accounts, provider heroku.API, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: store, accounts: accounts, provider: provider, logger: logger}
}

// Delete removes a deployment. The ledger row is marked deleted even when no
// credential could remove the remote resource; an unreachable remote must
// never pin a row the owner asked to be gone.
func (s *Service) Delete(ctx context.Context, deploymentID string) (*Outcome, error) {
	dep, err := s.ledger.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if dep.Status == domain.StatusDeleted {
		return &Outcome{DeploymentID: dep.ID, RemoteDeleted: false}, nil
	}

	remoteDeleted := s.deleteRemote(ctx, dep)

	if err := s.ledger.MarkDeleted(ctx, dep.ID); err != nil {
		return nil, fmt.Errorf("mark deployment %s deleted: %w", dep.ID, err)
	}

	middleware.DeletionsTotal.WithLabelValues(remoteLabel(remoteDeleted)).Inc()
	s.logger.Info("deployment deleted",
		zap.String("deployment_id", dep.ID),
		zap.String("remote_name", dep.RemoteName),
		zap.Bool("remote_deleted", remoteDeleted),
	)
	return &Outcome{DeploymentID: dep.ID, RemoteDeleted: remoteDeleted}, nil
}

// deleteRemote tries the assigned credential first, then the rest of the
// active pool in random order. NotFound counts as deleted: the resource is
// gone no matter who removed it.
func (s *Service) deleteRemote(ctx context.Context, dep *domain.Deployment) bool {
	for _, credential := range s.candidateCredentials(ctx, dep) {
		err := s.provider.DeleteApp(ctx, credential, dep.RemoteName)
		switch {
		case err == nil, heroku.IsNotFound(err):
			return true
		case heroku.IsUnauthorized(err):
			if derr := s.accounts.Deactivate(ctx, credential, err.Error()); derr != nil {
				s.logger.Warn("failed to deactivate rejected account", zap.Error(derr))
			}
		default:
			s.logger.Debug("remote delete attempt failed",
				zap.String("deployment_id", dep.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Warn("remote resource could not be deleted under any account",
		zap.String("deployment_id", dep.ID),
		zap.String("remote_name", dep.RemoteName),
	)
	return false
}

func (s *Service) candidateCredentials(ctx context.Context, dep *domain.Deployment) []string {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		s.logger.Warn("failed to list active accounts", zap.Error(err))
		accounts = nil
	}

	others := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a.Credential != dep.AssignedAccount {
			others = append(others, a.Credential)
		}
	}
	rand.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })

	if dep.AssignedAccount == "" {
		return others
	}
	return append([]string{dep.AssignedAccount}, others...)
}

func remoteLabel(deleted bool) string {
	if deleted {
		return "remote"
	}
	return "local_only"
}
