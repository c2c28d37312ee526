package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployment-orchestrator-go/internal/billing"
	"deployment-orchestrator-go/internal/deleter"
	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/heroku"
	"deployment-orchestrator-go/internal/ledger"
)

type fakeProvider struct {
	heroku.API
	activeByName map[string]bool
	errByName    map[string]error
	panicNames   map[string]bool
	probes       []string
}

func (f *fakeProvider) AppActive(_ context.Context, _, name string) (bool, error) {
	f.probes = append(f.probes, name)
	if f.panicNames[name] {
		panic("provider blew up")
	}
	if err := f.errByName[name]; err != nil {
		return false, err
	}
	return f.activeByName[name], nil
}

type fakeAccounts struct {
	active []domain.HostingAccount
}

func (a *fakeAccounts) ListActive(context.Context) ([]domain.HostingAccount, error) {
	return a.active, nil
}

type fakeRedeployer struct {
	err        error
	credential string
	remoteName string
	calls      []string
}

func (r *fakeRedeployer) Redeploy(_ context.Context, dep *domain.Deployment) (string, string, error) {
	r.calls = append(r.calls, dep.ID)
	if r.err != nil {
		return "", "", r.err
	}
	return r.credential, r.remoteName, nil
}

// fakeDeleter marks the row deleted so the sweep sees the same end state a
// real deletion produces.
type fakeDeleter struct {
	store *ledger.Memory
	calls []string
}

func (d *fakeDeleter) Delete(ctx context.Context, id string) (*deleter.Outcome, error) {
	d.calls = append(d.calls, id)
	if err := d.store.MarkDeleted(ctx, id); err != nil {
		return nil, err
	}
	return &deleter.Outcome{DeploymentID: id, RemoteDeleted: true}, nil
}

type fakeBilling struct {
	errByOwner map[string]error
	debits     []string
	amounts    []int64
}

func (b *fakeBilling) Debit(_ context.Context, ownerID string, amount int64) error {
	b.debits = append(b.debits, ownerID)
	b.amounts = append(b.amounts, amount)
	return b.errByOwner[ownerID]
}

func (b *fakeBilling) Credit(context.Context, string, int64) error { return nil }

type fakeCatalog struct{}

func (fakeCatalog) Get(_ context.Context, id string) (*domain.Workload, error) {
	return &domain.Workload{ID: id, Name: "music-bot", RecurringCost: 10}, nil
}

type fakeMaintLog struct {
	entries []domain.MaintenanceEntry
}

func (l *fakeMaintLog) Record(_ context.Context, e domain.MaintenanceEntry) error {
	l.entries = append(l.entries, e)
	return nil
}

type fakeNotifier struct {
	deleted    []string
	redeployed []string
}

func (n *fakeNotifier) DeploymentDeleted(_ context.Context, ownerID, _, _ string) error {
	n.deleted = append(n.deleted, ownerID)
	return nil
}

func (n *fakeNotifier) DeploymentRedeployed(_ context.Context, ownerID, _, _ string) error {
	n.redeployed = append(n.redeployed, ownerID)
	return nil
}

type fixture struct {
	rec        *Reconciler
	store      *ledger.Memory
	provider   *fakeProvider
	redeployer *fakeRedeployer
	deleter    *fakeDeleter
	billing    *fakeBilling
	maintlog   *fakeMaintLog
	notifier   *fakeNotifier
	base       time.Time
}

func newFixture() *fixture {
	store := ledger.NewMemory()
	provider := &fakeProvider{
		activeByName: make(map[string]bool),
		errByName:    make(map[string]error),
		panicNames:   make(map[string]bool),
	}
	accounts := &fakeAccounts{active: []domain.HostingAccount{
		{Credential: "key-a", Active: true},
		{Credential: "key-b", Active: true},
	}}
	redeployer := &fakeRedeployer{credential: "key-b", remoteName: "foo-1a2b-td"}
	del := &fakeDeleter{store: store}
	bill := &fakeBilling{errByOwner: make(map[string]error)}
	maintlog := &fakeMaintLog{}
	notifier := &fakeNotifier{}

	rec := New(store, provider, accounts, redeployer, del, bill, fakeCatalog{}, maintlog, notifier, Options{
		SweepInterval:   15 * time.Minute,
		StalenessWindow: time.Hour,
		BillingInterval: 24 * time.Hour,
		PageSize:        50,
	}, nil)

	base := time.Now()
	rec.now = func() time.Time { return base }

	return &fixture{
		rec: rec, store: store, provider: provider, redeployer: redeployer,
		deleter: del, billing: bill, maintlog: maintlog, notifier: notifier, base: base,
	}
}

func (f *fixture) seed(id, name string, checkedAgo, billedAgo time.Duration) {
	f.store.Seed(domain.Deployment{
		ID: id, OwnerID: "7", WorkloadID: "42", RequestedName: name,
		RemoteName: name + "-td", Status: domain.StatusActive, AssignedAccount: "key-a",
		Parameters:      map[string]string{"TOKEN": "abc"},
		CreatedAt:       f.base.Add(-48 * time.Hour),
		LastStatusCheck: f.base.Add(-checkedAgo),
		LastBillingAt:   f.base.Add(-billedAgo),
	})
}

func TestSweepLeavesFreshDeploymentAlone(t *testing.T) {
	f := newFixture()
	f.seed("dep-1", "foo", 10*time.Minute, time.Hour)

	require.NoError(t, f.rec.Sweep(context.Background()))

	assert.Empty(t, f.provider.probes)
	assert.Empty(t, f.billing.debits)
	assert.Empty(t, f.redeployer.calls)
}

func TestSweepStampsLiveDeployment(t *testing.T) {
	f := newFixture()
	f.seed("dep-1", "foo", 2*time.Hour, time.Hour)
	f.provider.activeByName["foo-td"] = true

	require.NoError(t, f.rec.Sweep(context.Background()))

	assert.Empty(t, f.redeployer.calls)
	row, err := f.store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.True(t, row.LastStatusCheck.After(f.base.Add(-time.Hour)))
}

func TestSweepRedeploysInactiveDeployment(t *testing.T) {
	f := newFixture()
	f.seed("dep-1", "foo", 2*time.Hour, time.Hour)
	f.provider.activeByName["foo-td"] = false

	require.NoError(t, f.rec.Sweep(context.Background()))

	assert.Equal(t, []string{"dep-1"}, f.redeployer.calls)

	row, err := f.store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, row.Status)
	assert.Equal(t, "key-b", row.AssignedAccount)
	assert.Equal(t, "foo-1a2b-td", row.RemoteName)

	require.Len(t, f.maintlog.entries, 1)
	assert.Equal(t, domain.ActionRedeploy, f.maintlog.entries[0].Action)
	assert.Equal(t, domain.ReasonInactiveRemote, f.maintlog.entries[0].Reason)
	assert.Equal(t, []string{"7"}, f.notifier.redeployed)
}

func TestSweepRedeployFailureLeavesRowForNextSweep(t *testing.T) {
	f := newFixture()
	f.seed("dep-1", "foo", 2*time.Hour, time.Hour)
	f.provider.activeByName["foo-td"] = false
	f.redeployer.err = errors.New("no usable account")

	require.NoError(t, f.rec.Sweep(context.Background()))

	row, err := f.store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "key-a", row.AssignedAccount)
	assert.Equal(t, "foo-td", row.RemoteName)
	// The stamp stays old so the next sweep probes again.
	assert.Equal(t, f.base.Add(-2*time.Hour), row.LastStatusCheck)
	assert.Empty(t, f.maintlog.entries)
}

func TestSweepDebitsDueDeployment(t *testing.T) {
	f := newFixture()
	f.seed("dep-1", "foo", 10*time.Minute, 25*time.Hour)

	require.NoError(t, f.rec.Sweep(context.Background()))

	assert.Equal(t, []string{"7"}, f.billing.debits)
	assert.Equal(t, []int64{10}, f.billing.amounts)

	row, err := f.store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.True(t, row.LastBillingAt.After(f.base.Add(-time.Hour)))
}

func TestSweepDeletesUnpaidDeployment(t *testing.T) {
	f := newFixture()
	f.seed("dep-1", "foo", 10*time.Minute, 25*time.Hour)
	f.billing.errByOwner["7"] = billing.ErrInsufficientFunds

	require.NoError(t, f.rec.Sweep(context.Background()))

	assert.Equal(t, []string{"dep-1"}, f.deleter.calls)

	row, err := f.store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, row.Status)

	require.Len(t, f.maintlog.entries, 1)
	assert.Equal(t, domain.ActionDelete, f.maintlog.entries[0].Action)
	assert.Equal(t, domain.ReasonInsufficientFunds, f.maintlog.entries[0].Reason)
	assert.Equal(t, []string{"7"}, f.notifier.deleted)
}

func TestSweepTransientBillingFailureRetriesNextSweep(t *testing.T) {
	f := newFixture()
	f.seed("dep-1", "foo", 10*time.Minute, 25*time.Hour)
	f.billing.errByOwner["7"] = errors.New("wallet service returned status 500")

	require.NoError(t, f.rec.Sweep(context.Background()))

	assert.Empty(t, f.deleter.calls)
	row, err := f.store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, row.Status)
	assert.Equal(t, f.base.Add(-25*time.Hour), row.LastBillingAt)
}

func TestSweepIsolatesItemFailures(t *testing.T) {
	f := newFixture()
	// Three due deployments, seeded with distinct creation times so the
	// page order is deterministic.
	for i, name := range []string{"one", "two", "three"} {
		f.store.Seed(domain.Deployment{
			ID: "dep-" + name, OwnerID: "7", WorkloadID: "42", RequestedName: name,
			RemoteName: name + "-td", Status: domain.StatusActive, AssignedAccount: "key-a",
			CreatedAt:       f.base.Add(time.Duration(i-72) * time.Hour),
			LastStatusCheck: f.base.Add(-2 * time.Hour),
			LastBillingAt:   f.base.Add(-25 * time.Hour),
		})
	}
	f.provider.activeByName["one-td"] = true
	f.provider.activeByName["three-td"] = true
	f.provider.panicNames["two-td"] = true

	require.NoError(t, f.rec.Sweep(context.Background()))

	// The middle item blew up; its neighbors were still examined and billed.
	assert.Equal(t, []string{"7", "7"}, f.billing.debits)
	for _, id := range []string{"dep-one", "dep-three"} {
		row, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, row.LastStatusCheck.After(f.base.Add(-time.Hour)), id)
	}
	row, err := f.store.Get(context.Background(), "dep-two")
	require.NoError(t, err)
	assert.Equal(t, f.base.Add(-2*time.Hour), row.LastStatusCheck)
}

func TestSweepProbeFallsBackToOtherAccounts(t *testing.T) {
	f := newFixture()
	f.seed("dep-1", "foo", 2*time.Hour, time.Hour)

	// The assigned account errors; key-b answers that the app is up. One
	// probe per credential, no redeploy.
	calls := 0
	f.provider.errByName["foo-td"] = &heroku.Error{Kind: heroku.KindTransient, Op: "probe liveness", Status: 503}
	orig := f.provider
	f.rec.provider = appActiveFunc(func(ctx context.Context, credential, name string) (bool, error) {
		calls++
		if credential == "key-a" {
			return orig.AppActive(ctx, credential, name)
		}
		return true, nil
	})

	require.NoError(t, f.rec.Sweep(context.Background()))

	assert.Equal(t, 2, calls)
	assert.Empty(t, f.redeployer.calls)
}

// appActiveFunc adapts a function to the one provider method the sweep uses.
type appActiveFunc func(ctx context.Context, credential, name string) (bool, error)

func (f appActiveFunc) AppActive(ctx context.Context, credential, name string) (bool, error) {
	return f(ctx, credential, name)
}

func (appActiveFunc) CreateApp(context.Context, string, string) error { return nil }
func (appActiveFunc) SetConfigVars(context.Context, string, string, map[string]string) error {
	return nil
}
func (appActiveFunc) TriggerBuild(context.Context, string, string, string) (string, error) {
	return "", nil
}
func (appActiveFunc) AppsCount(context.Context, string) (int, error) { return 0, nil }
func (appActiveFunc) DeleteApp(context.Context, string, string) error {
	return nil
}

func TestSweepRejectsConcurrentRun(t *testing.T) {
	f := newFixture()

	f.rec.sweeping.Store(true)
	err := f.rec.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	// Once the running sweep finishes, the next one proceeds.
	f.rec.sweeping.Store(false)
	assert.NoError(t, f.rec.Sweep(context.Background()))
}
