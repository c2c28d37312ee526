// Package provisioner turns a deployment request into a running remote
// resource, or fails cleanly with no orphaned remote state. Steps run in
// strict order; a failed step rolls back everything this attempt created.
package provisioner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/api/middleware"
	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/heroku"
	"deployment-orchestrator-go/internal/ledger"
)

// AccountPool is the slice of the account pool the workflow uses.
type AccountPool interface {
	SelectUsableAccount(ctx context.Context) (*domain.HostingAccount, error)
	RecordCapacitySnapshot(ctx context.Context, credential string, used int) error
	RecordFailure(ctx context.Context, credential, reason string) error
	MarkUsed(ctx context.Context, credential string) error
}

// WorkloadCatalog resolves workload ids to their source and cost.
type WorkloadCatalog interface {
	Get(ctx context.Context, workloadID string) (*domain.Workload, error)
}

// NameReserver guards in-flight remote names against concurrent requests.
type NameReserver interface {
	Reserve(ctx context.Context, remoteName string) (bool, error)
	Release(ctx context.Context, remoteName string) error
}

// MaintenanceLog records audit entries for operator diagnosis.
type MaintenanceLog interface {
	Record(ctx context.Context, entry domain.MaintenanceEntry) error
}

// Request is one provisioning request.
type Request struct {
	OwnerID       string
	WorkloadID    string
	RequestedName string
	Parameters    map[string]string
}

// Validate checks the request's required fields.
func (r *Request) Validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if r.WorkloadID == "" {
		return fmt.Errorf("workload_id is required")
	}
	if r.RequestedName == "" {
		return fmt.Errorf("requested_name is required")
	}
	if len(r.Parameters) == 0 {
		return fmt.Errorf("parameters are required")
	}
	return nil
}

// Result is a successful provisioning outcome.
type Result struct {
	DeploymentID string `json:"deployment_id"`
	RemoteName   string `json:"remote_name"`
}

// Workflow executes the ordered provisioning steps.
type Workflow struct {
	pool     AccountPool
	ledger   ledger.Store
	provider heroku.API
	catalog  WorkloadCatalog
	names    NameReserver
	maintlog MaintenanceLog
	suffix   string
	logger   *zap.Logger
}

// New creates a provisioning workflow.
func New(
	pool AccountPool,
	store ledger.Store,
	provider heroku.API,
	catalog WorkloadCatalog,
	names NameReserver,
	maintlog MaintenanceLog,
	remoteNameSuffix string,
	logger *zap.Logger,
) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		pool:     pool,
		ledger:   store,
		provider: provider,
		catalog:  catalog,
		names:    names,
		maintlog: maintlog,
		suffix:   remoteNameSuffix,
		logger:   logger,
	}
}

// Provision runs the full workflow for a new deployment.
//
// Order: resolve workload, reserve the remote name, select an account, insert
// the pending ledger row, then create/configure/build remotely. The pending
// row is the durable record that a remote resource may exist; everything
// after it either ends in an active row or in a failed row with the remote
// side rolled back best-effort.
func (w *Workflow) Provision(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	workload, err := w.catalog.Get(ctx, req.WorkloadID)
	if err != nil {
		return nil, fmt.Errorf("resolve workload %q: %w", req.WorkloadID, err)
	}

	remoteName := domain.DeriveRemoteName(req.RequestedName, w.suffix)

	held, err := w.names.Reserve(ctx, remoteName)
	if err != nil {
		return nil, fmt.Errorf("reserve remote name: %w", err)
	}
	if !held {
		return nil, ErrNameTaken
	}
	defer func() {
		if rerr := w.names.Release(context.WithoutCancel(ctx), remoteName); rerr != nil {
			w.logger.Warn("failed to release name reservation",
				zap.String("remote_name", remoteName), zap.Error(rerr))
		}
	}()

	account, err := w.pool.SelectUsableAccount(ctx)
	if err != nil {
		middleware.ProvisionsTotal.WithLabelValues("no_capacity").Inc()
		return nil, err
	}

	dep := &domain.Deployment{
		ID:              uuid.New().String(),
		OwnerID:         req.OwnerID,
		WorkloadID:      req.WorkloadID,
		RequestedName:   req.RequestedName,
		RemoteName:      remoteName,
		Status:          domain.StatusPending,
		AssignedAccount: account.Credential,
		Parameters:      req.Parameters,
	}
	if err := w.ledger.Create(ctx, dep); err != nil {
		return nil, fmt.Errorf("create deployment row: %w", err)
	}

	if err := w.runRemoteSteps(ctx, account.Credential, remoteName, req.Parameters, workload.SourceTarball); err != nil {
		sf := err.(*stepFailure)
		w.failAttempt(ctx, dep, account.Credential, sf)
		middleware.ProvisionsTotal.WithLabelValues("failed").Inc()
		return nil, &StepError{Step: sf.step, DeploymentID: dep.ID, Err: sf.err}
	}

	// Observability refresh, not correctness: a failed re-probe never rolls
	// back a deployment that already built.
	if count, err := w.provider.AppsCount(ctx, account.Credential); err != nil {
		w.logger.Warn("post-provision capacity re-probe failed",
			zap.String("deployment_id", dep.ID), zap.Error(err))
	} else if err := w.pool.RecordCapacitySnapshot(ctx, account.Credential, count); err != nil {
		w.logger.Warn("failed to record capacity snapshot", zap.Error(err))
	}
	if err := w.pool.MarkUsed(ctx, account.Credential); err != nil {
		w.logger.Warn("failed to stamp account usage", zap.Error(err))
	}

	if err := w.ledger.MarkActive(ctx, dep.ID); err != nil {
		// A concurrent delete won the race; the remote resource will be
		// reaped by the deletion path that owns the row now.
		w.logger.Error("failed to activate deployment",
			zap.String("deployment_id", dep.ID), zap.Error(err))
		return nil, fmt.Errorf("activate deployment %s: %w", dep.ID, err)
	}

	middleware.ProvisionsTotal.WithLabelValues("success").Inc()
	w.logger.Info("deployment provisioned",
		zap.String("deployment_id", dep.ID),
		zap.String("owner_id", req.OwnerID),
		zap.String("remote_name", remoteName),
	)
	return &Result{DeploymentID: dep.ID, RemoteName: remoteName}, nil
}

// Redeploy re-provisions an existing deployment's workload under a fresh
// remote name, possibly on a different account. It touches only remote state
// and account bookkeeping; the caller records the new assignment in the
// ledger on success and leaves the row untouched on failure.
func (w *Workflow) Redeploy(ctx context.Context, dep *domain.Deployment) (credential, remoteName string, err error) {
	workload, err := w.catalog.Get(ctx, dep.WorkloadID)
	if err != nil {
		return "", "", fmt.Errorf("resolve workload %q: %w", dep.WorkloadID, err)
	}

	// The old name may still be tombstoned on the provider side; a short
	// random suffix keeps the replacement name unique.
	remoteName = domain.DeriveRemoteName(dep.RequestedName+"-"+uuid.New().String()[:4], w.suffix)

	held, err := w.names.Reserve(ctx, remoteName)
	if err != nil {
		return "", "", fmt.Errorf("reserve remote name: %w", err)
	}
	if !held {
		return "", "", ErrNameTaken
	}
	defer func() {
		if rerr := w.names.Release(context.WithoutCancel(ctx), remoteName); rerr != nil {
			w.logger.Warn("failed to release name reservation",
				zap.String("remote_name", remoteName), zap.Error(rerr))
		}
	}()

	account, err := w.pool.SelectUsableAccount(ctx)
	if err != nil {
		return "", "", err
	}

	if err := w.runRemoteSteps(ctx, account.Credential, remoteName, dep.Parameters, workload.SourceTarball); err != nil {
		sf := err.(*stepFailure)
		w.rollbackRemote(ctx, dep, account.Credential, remoteName)
		if rerr := w.pool.RecordFailure(ctx, account.Credential, sf.err.Error()); rerr != nil {
			w.logger.Warn("failed to record account failure", zap.Error(rerr))
		}
		return "", "", &StepError{Step: sf.step, DeploymentID: dep.ID, Err: sf.err}
	}

	if err := w.pool.MarkUsed(ctx, account.Credential); err != nil {
		w.logger.Warn("failed to stamp account usage", zap.Error(err))
	}
	return account.Credential, remoteName, nil
}

// stepFailure tags a remote step error with the step that raised it.
type stepFailure struct {
	step string
	err  error
}

func (e *stepFailure) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepFailure) Unwrap() error { return e.err }

// runRemoteSteps executes create → configure → build under one account.
func (w *Workflow) runRemoteSteps(ctx context.Context, credential, remoteName string, params map[string]string, sourceTarball string) error {
	if err := w.provider.CreateApp(ctx, credential, remoteName); err != nil {
		return &stepFailure{step: "create app", err: err}
	}
	if err := w.provider.SetConfigVars(ctx, credential, remoteName, params); err != nil {
		return &stepFailure{step: "set config vars", err: err}
	}
	if _, err := w.provider.TriggerBuild(ctx, credential, remoteName, sourceTarball); err != nil {
		return &stepFailure{step: "trigger build", err: err}
	}
	return nil
}

// failAttempt rolls back a failed provisioning attempt: one best-effort
// remote delete, the ledger row marked failed with the verbatim step error,
// and the account's failure counter bumped.
func (w *Workflow) failAttempt(ctx context.Context, dep *domain.Deployment, credential string, stepErr error) {
	w.logger.Warn("provisioning step failed, rolling back",
		zap.String("deployment_id", dep.ID),
		zap.String("remote_name", dep.RemoteName),
		zap.Error(stepErr),
	)

	w.rollbackRemote(ctx, dep, credential, dep.RemoteName)

	if err := w.ledger.MarkFailed(ctx, dep.ID, stepErr.Error()); err != nil {
		w.logger.Error("failed to mark deployment failed",
			zap.String("deployment_id", dep.ID), zap.Error(err))
	}
	if err := w.pool.RecordFailure(ctx, credential, stepErr.Error()); err != nil {
		w.logger.Warn("failed to record account failure", zap.Error(err))
	}
}

// rollbackRemote deletes the possibly-created remote resource. At most one
// attempt; a failure here may leak remote state, which the maintenance log
// records for operators.
func (w *Workflow) rollbackRemote(ctx context.Context, dep *domain.Deployment, credential, remoteName string) {
	middleware.RollbacksTotal.Inc()
	if err := w.provider.DeleteApp(ctx, credential, remoteName); err != nil && !heroku.IsNotFound(err) {
		w.logger.Error("rollback delete failed, remote resource may be orphaned",
			zap.String("deployment_id", dep.ID),
			zap.String("remote_name", remoteName),
			zap.Error(err),
		)
		entry := domain.MaintenanceEntry{
			DeploymentID: dep.ID,
			OwnerID:      dep.OwnerID,
			Action:       domain.ActionRollbackFailed,
			Reason:       err.Error(),
		}
		if lerr := w.maintlog.Record(ctx, entry); lerr != nil {
			w.logger.Error("failed to record rollback failure", zap.Error(lerr))
		}
	}
}
