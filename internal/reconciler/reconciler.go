// Package reconciler runs the periodic maintenance sweep over active
// deployments: it verifies the remote resource is still serving, redeploys
// dead ones, meters hosting charges, and deletes deployments whose owners
// can no longer pay.
package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"deployment-orchestrator-go/internal/api/middleware"
	"deployment-orchestrator-go/internal/billing"
	"deployment-orchestrator-go/internal/deleter"
	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/heroku"
	"deployment-orchestrator-go/internal/ledger"
	"deployment-orchestrator-go/internal/notify"
)

// ErrSweepInProgress is returned when a sweep is requested while a previous
// one is still running.
var ErrSweepInProgress = errors.New("maintenance sweep already in progress")

// Redeployer re-provisions a deployment's workload under a fresh remote name.
type Redeployer interface {
	Redeploy(ctx context.Context, dep *domain.Deployment) (credential, remoteName string, err error)
}

// Deleter tears a deployment down.
type Deleter interface {
	Delete(ctx context.Context, deploymentID string) (*deleter.Outcome, error)
}

// Accounts lists the active hosting accounts for liveness probe fallback.
type Accounts interface {
	ListActive(ctx context.Context) ([]domain.HostingAccount, error)
}

// WorkloadCatalog resolves a deployment's workload to its recurring cost.
type WorkloadCatalog interface {
	Get(ctx context.Context, workloadID string) (*domain.Workload, error)
}

// MaintenanceLog records the sweep's actions for operator diagnosis.
type MaintenanceLog interface {
	Record(ctx context.Context, entry domain.MaintenanceEntry) error
}

// Options tunes the sweep cadence and thresholds.
type Options struct {
	// SweepInterval is the pause between periodic sweeps.
	SweepInterval time.Duration
	// StalenessWindow is how old a liveness check may be before re-probing.
	StalenessWindow time.Duration
	// BillingInterval is how often each deployment is charged.
	BillingInterval time.Duration
	// PageSize bounds how many rows one ledger page holds.
	PageSize int
	// ItemDelay is the pause between items, to avoid hammering the provider.
	ItemDelay time.Duration
}

// Reconciler drives the maintenance sweep.
type Reconciler struct {
	ledger   ledger.Store
	provider heroku.API
	accounts Accounts
	workflow Redeployer
	deleter  Deleter
	billing  billing.Service
	catalog  WorkloadCatalog
	maintlog MaintenanceLog
	notifier notify.Notifier
	opts     Options
	logger   *zap.Logger

	// One sweep at a time. A tick that fires while a slow sweep is still
	// walking pages must not start a second walk.
	sweeping atomic.Bool

	now func() time.Time
}

// New creates a reconciler.
func New(
	store ledger.Store,
	provider heroku.API,
	accounts Accounts,
	workflow Redeployer,
	del Deleter,
	bill billing.Service,
	catalog WorkloadCatalog,
	maintlog MaintenanceLog,
	notifier notify.Notifier,
	opts Options,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Reconciler{
		ledger:   store,
		provider: provider,
		accounts: accounts,
		workflow: workflow,
		deleter:  del,
		billing:  bill,
		catalog:  catalog,
		maintlog: maintlog,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("initial maintenance sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.Sweep(ctx)
			switch {
			case errors.Is(err, ErrSweepInProgress):
				r.logger.Warn("skipping maintenance sweep, previous one still running")
			case err != nil && !errors.Is(err, context.Canceled):
				r.logger.Error("maintenance sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep walks every active deployment once. At most one sweep runs at a
// time; a concurrent call returns ErrSweepInProgress without touching
// anything.
func (r *Reconciler) Sweep(ctx context.Context) error {
	if !r.sweeping.CompareAndSwap(false, true) {
		return ErrSweepInProgress
	}
	defer r.sweeping.Store(false)

	middleware.SweepsTotal.Inc()
	start := r.now()
	examined := 0

	for offset := 0; ; offset += r.opts.PageSize {
		page, err := r.ledger.ListMaintenancePage(ctx, r.opts.PageSize, offset)
		if err != nil {
			return err
		}

		for i := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.processItem(ctx, &page[i])
			examined++

			if r.opts.ItemDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.opts.ItemDelay):
				}
			}
		}

		if len(page) < r.opts.PageSize {
			break
		}
	}

	r.logger.Info("maintenance sweep complete",
		zap.Int("deployments_examined", examined),
		zap.Duration("took", r.now().Sub(start)),
	)
	return nil
}

// processItem runs liveness and metering for one deployment. A failure on
// one item never stops the sweep.
func (r *Reconciler) processItem(ctx context.Context, dep *domain.Deployment) {
	defer func() {
		if rec := recover(); rec != nil {
			middleware.SweepItemsTotal.WithLabelValues("panic").Inc()
			r.logger.Error("maintenance item panicked",
				zap.String("deployment_id", dep.ID),
				zap.Any("panic", rec),
			)
		}
	}()

	outcome := r.checkLiveness(ctx, dep)
	if outcome == "deleted" {
		middleware.SweepItemsTotal.WithLabelValues(outcome).Inc()
		return
	}

	if billed := r.meterUsage(ctx, dep); billed != "" {
		outcome = billed
	}
	middleware.SweepItemsTotal.WithLabelValues(outcome).Inc()
}

// checkLiveness re-probes deployments whose last check is stale and
// redeploys ones whose remote resource stopped serving. One redeploy attempt
// per sweep; a failed attempt leaves the row for the next sweep.
func (r *Reconciler) checkLiveness(ctx context.Context, dep *domain.Deployment) string {
	age := r.now().Sub(dep.LastStatusCheck)
	if !dep.LastStatusCheck.IsZero() && age < r.opts.StalenessWindow {
		return "ok"
	}

	active, known := r.probeRemote(ctx, dep)
	if !known {
		// Every credential errored. Leave the stamp alone so the next sweep
		// retries, and do not redeploy on uncertainty.
		r.logger.Warn("liveness probe inconclusive",
			zap.String("deployment_id", dep.ID),
			zap.String("remote_name", dep.RemoteName),
		)
		return "probe_failed"
	}

	if active {
		if err := r.ledger.TouchStatusCheck(ctx, dep.ID); err != nil {
			r.logger.Warn("failed to stamp liveness check",
				zap.String("deployment_id", dep.ID), zap.Error(err))
		}
		return "ok"
	}

	credential, remoteName, err := r.workflow.Redeploy(ctx, dep)
	if err != nil {
		r.logger.Error("redeploy of dead deployment failed",
			zap.String("deployment_id", dep.ID),
			zap.String("remote_name", dep.RemoteName),
			zap.Error(err),
		)
		return "redeploy_failed"
	}

	if err := r.ledger.RecordRedeployment(ctx, dep.ID, credential, remoteName); err != nil {
		// The row changed under us, most likely deleted mid-sweep. The fresh
		// remote resource is now orphaned; record it for operators.
		r.logger.Error("failed to record redeployment",
			zap.String("deployment_id", dep.ID), zap.Error(err))
		return "redeploy_failed"
	}
	dep.RemoteName = remoteName
	dep.AssignedAccount = credential

	r.recordMaintenance(ctx, dep, domain.ActionRedeploy, domain.ReasonInactiveRemote)
	if err := r.notifier.DeploymentRedeployed(ctx, dep.OwnerID, dep.RequestedName, remoteName); err != nil {
		r.logger.Warn("failed to notify owner of redeploy", zap.Error(err))
	}
	r.logger.Info("redeployed inactive deployment",
		zap.String("deployment_id", dep.ID),
		zap.String("remote_name", remoteName),
	)
	return "redeployed"
}

// probeRemote asks whether the deployment's remote resource is serving.
// The assigned account is asked first; on error the rest of the active pool
// is tried. known is false only when no credential gave an answer.
func (r *Reconciler) probeRemote(ctx context.Context, dep *domain.Deployment) (active, known bool) {
	credentials := []string{}
	if dep.AssignedAccount != "" {
		credentials = append(credentials, dep.AssignedAccount)
	}
	if accounts, err := r.accounts.ListActive(ctx); err != nil {
		r.logger.Warn("failed to list accounts for liveness probe", zap.Error(err))
	} else {
		for _, a := range accounts {
			if a.Credential != dep.AssignedAccount {
				credentials = append(credentials, a.Credential)
			}
		}
	}

	for _, credential := range credentials {
		up, err := r.provider.AppActive(ctx, credential, dep.RemoteName)
		if err == nil {
			return up, true
		}
		if heroku.IsNotFound(err) {
			return false, true
		}
		r.logger.Debug("liveness probe attempt failed",
			zap.String("deployment_id", dep.ID), zap.Error(err))
	}
	return false, false
}

// meterUsage charges the owner when the billing interval has elapsed and
// deletes the deployment when the wallet cannot cover it.
func (r *Reconciler) meterUsage(ctx context.Context, dep *domain.Deployment) string {
	last := dep.LastBillingAt
	if last.IsZero() {
		// Provisioning charged the first interval up front.
		last = dep.CreatedAt
	}
	if r.now().Sub(last) < r.opts.BillingInterval {
		return ""
	}

	workload, err := r.catalog.Get(ctx, dep.WorkloadID)
	if err != nil {
		r.logger.Error("failed to resolve workload for metering",
			zap.String("deployment_id", dep.ID), zap.Error(err))
		return "billing_failed"
	}

	err = r.billing.Debit(ctx, dep.OwnerID, workload.RecurringCost)
	switch {
	case errors.Is(err, billing.ErrInsufficientFunds):
		return r.deleteUnpaid(ctx, dep)
	case err != nil:
		// Transient wallet failure. Do not stamp; the next sweep retries.
		r.logger.Warn("billing debit failed",
			zap.String("deployment_id", dep.ID), zap.Error(err))
		return "billing_failed"
	}

	if err := r.ledger.TouchBillingCharge(ctx, dep.ID); err != nil {
		r.logger.Warn("failed to stamp billing charge",
			zap.String("deployment_id", dep.ID), zap.Error(err))
	}
	return "billed"
}

func (r *Reconciler) deleteUnpaid(ctx context.Context, dep *domain.Deployment) string {
	if _, err := r.deleter.Delete(ctx, dep.ID); err != nil {
		r.logger.Error("failed to delete unpaid deployment",
			zap.String("deployment_id", dep.ID), zap.Error(err))
		return "billing_failed"
	}

	r.recordMaintenance(ctx, dep, domain.ActionDelete, domain.ReasonInsufficientFunds)
	if err := r.notifier.DeploymentDeleted(ctx, dep.OwnerID, dep.RequestedName, domain.ReasonInsufficientFunds); err != nil {
		r.logger.Warn("failed to notify owner of deletion", zap.Error(err))
	}
	r.logger.Info("deleted deployment for insufficient funds",
		zap.String("deployment_id", dep.ID),
		zap.String("owner_id", dep.OwnerID),
	)
	return "deleted"
}

func (r *Reconciler) recordMaintenance(ctx context.Context, dep *domain.Deployment, action, reason string) {
	entry := domain.MaintenanceEntry{
		DeploymentID: dep.ID,
		OwnerID:      dep.OwnerID,
		Action:       action,
		Reason:       reason,
	}
	if err := r.maintlog.Record(ctx, entry); err != nil {
		r.logger.Error("failed to record maintenance entry",
			zap.String("deployment_id", dep.ID), zap.Error(err))
	}
}
