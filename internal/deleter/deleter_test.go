package deleter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/heroku"
	"deployment-orchestrator-go/internal/ledger"
)

type fakeAccounts struct {
	active      []domain.HostingAccount
	deactivated []string
}

func (a *fakeAccounts) ListActive(context.Context) ([]domain.HostingAccount, error) {
	return a.active, nil
}

func (a *fakeAccounts) Deactivate(_ context.Context, credential, _ string) error {
	a.deactivated = append(a.deactivated, credential)
	return nil
}

// fakeProvider fails DeleteApp per credential as scripted.
type fakeProvider struct {
	heroku.API
	errByCredential map[string]error
	deletes         []string
}

func (f *fakeProvider) DeleteApp(_ context.Context, credential, _ string) error {
	f.deletes = append(f.deletes, credential)
	return f.errByCredential[credential]
}

func seedActive(t *testing.T, store *ledger.Memory, assigned string) *domain.Deployment {
	t.Helper()
	store.Seed(domain.Deployment{
		ID: "dep-1", OwnerID: "7", WorkloadID: "42", RequestedName: "foo",
		RemoteName: "foo-td", Status: domain.StatusActive, AssignedAccount: assigned,
	})
	dep, err := store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	return dep
}

func TestDeleteRemovesRemoteUnderAssignedAccount(t *testing.T) {
	store := ledger.NewMemory()
	seedActive(t, store, "key-a")
	accounts := &fakeAccounts{active: []domain.HostingAccount{
		{Credential: "key-a", Active: true},
		{Credential: "key-b", Active: true},
	}}
	provider := &fakeProvider{errByCredential: map[string]error{}}

	svc := New(store, accounts, provider, nil)
	outcome, err := svc.Delete(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.True(t, outcome.RemoteDeleted)

	// Assigned account succeeded, so no other credential was tried.
	assert.Equal(t, []string{"key-a"}, provider.deletes)

	row, err := store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, row.Status)
}

func TestDeleteFallsBackToOtherAccounts(t *testing.T) {
	store := ledger.NewMemory()
	seedActive(t, store, "key-a")
	accounts := &fakeAccounts{active: []domain.HostingAccount{
		{Credential: "key-a", Active: true},
		{Credential: "key-b", Active: true},
	}}
	provider := &fakeProvider{errByCredential: map[string]error{
		"key-a": &heroku.Error{Kind: heroku.KindTransient, Op: "delete app", Status: 503},
	}}

	svc := New(store, accounts, provider, nil)
	outcome, err := svc.Delete(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.True(t, outcome.RemoteDeleted)
	assert.Equal(t, []string{"key-a", "key-b"}, provider.deletes)
}

func TestDeleteNotFoundRemotelyCountsAsDeleted(t *testing.T) {
	store := ledger.NewMemory()
	seedActive(t, store, "key-a")
	accounts := &fakeAccounts{active: []domain.HostingAccount{{Credential: "key-a", Active: true}}}
	provider := &fakeProvider{errByCredential: map[string]error{
		"key-a": &heroku.Error{Kind: heroku.KindNotFound, Op: "delete app", Status: 404},
	}}

	svc := New(store, accounts, provider, nil)
	outcome, err := svc.Delete(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.True(t, outcome.RemoteDeleted)
}

func TestDeleteMarksRowDeletedWhenEveryAccountFails(t *testing.T) {
	store := ledger.NewMemory()
	seedActive(t, store, "key-a")
	accounts := &fakeAccounts{active: []domain.HostingAccount{
		{Credential: "key-a", Active: true},
		{Credential: "key-b", Active: true},
	}}
	provider := &fakeProvider{errByCredential: map[string]error{
		"key-a": &heroku.Error{Kind: heroku.KindTransient, Op: "delete app", Status: 500},
		"key-b": &heroku.Error{Kind: heroku.KindTransient, Op: "delete app", Status: 500},
	}}

	svc := New(store, accounts, provider, nil)
	outcome, err := svc.Delete(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.False(t, outcome.RemoteDeleted)
	assert.Len(t, provider.deletes, 2)

	// The local row is gone regardless.
	row, err := store.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, row.Status)
}

func TestDeleteDeactivatesRejectedCredential(t *testing.T) {
	store := ledger.NewMemory()
	seedActive(t, store, "key-a")
	accounts := &fakeAccounts{active: []domain.HostingAccount{
		{Credential: "key-a", Active: true},
		{Credential: "key-b", Active: true},
	}}
	provider := &fakeProvider{errByCredential: map[string]error{
		"key-a": &heroku.Error{Kind: heroku.KindUnauthorized, Op: "delete app", Status: 401},
	}}

	svc := New(store, accounts, provider, nil)
	outcome, err := svc.Delete(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.True(t, outcome.RemoteDeleted)
	assert.Equal(t, []string{"key-a"}, accounts.deactivated)
}

func TestDeleteAlreadyDeletedIsNoop(t *testing.T) {
	store := ledger.NewMemory()
	store.Seed(domain.Deployment{
		ID: "dep-1", OwnerID: "7", WorkloadID: "42", RequestedName: "foo",
		RemoteName: "foo-td", Status: domain.StatusDeleted, AssignedAccount: "key-a",
	})
	provider := &fakeProvider{errByCredential: map[string]error{}}

	svc := New(store, &fakeAccounts{}, provider, nil)
	outcome, err := svc.Delete(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.False(t, outcome.RemoteDeleted)
	assert.Empty(t, provider.deletes)
}

func TestDeleteUnknownDeployment(t *testing.T) {
	svc := New(ledger.NewMemory(), &fakeAccounts{}, &fakeProvider{}, nil)
	_, err := svc.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
