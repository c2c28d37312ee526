package accountpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/heroku"
)

type fakeStore struct {
	accounts    []domain.HostingAccount
	deactivated map[string]string
	snapshots   map[string]int
	failures    map[string]int
	used        map[string]int
}

func newFakeStore(accounts ...domain.HostingAccount) *fakeStore {
	return &fakeStore{
		accounts:    accounts,
		deactivated: make(map[string]string),
		snapshots:   make(map[string]int),
		failures:    make(map[string]int),
		used:        make(map[string]int),
	}
}

func (s *fakeStore) ListActive(context.Context) ([]domain.HostingAccount, error) {
	var active []domain.HostingAccount
	for _, a := range s.accounts {
		if a.Active {
			if _, gone := s.deactivated[a.Credential]; !gone {
				active = append(active, a)
			}
		}
	}
	return active, nil
}

func (s *fakeStore) RecordCapacity(_ context.Context, credential string, used int) error {
	s.snapshots[credential] = used
	return nil
}

func (s *fakeStore) RecordFailure(_ context.Context, credential, reason string) error {
	s.failures[credential]++
	return nil
}

func (s *fakeStore) Deactivate(_ context.Context, credential, reason string) error {
	s.deactivated[credential] = reason
	return nil
}

func (s *fakeStore) MarkUsed(_ context.Context, credential string) error {
	s.used[credential]++
	return nil
}

// fakeProber returns a canned result per credential.
type fakeProber struct {
	counts map[string]int
	errs   map[string]error
	calls  int
}

func (p *fakeProber) AppsCount(_ context.Context, credential string) (int, error) {
	p.calls++
	if err, ok := p.errs[credential]; ok {
		return 0, err
	}
	return p.counts[credential], nil
}

func account(credential string, used, limit int, active bool) domain.HostingAccount {
	return domain.HostingAccount{
		Credential:    credential,
		Active:        active,
		CapacityUsed:  used,
		CapacityLimit: limit,
	}
}

func TestSelectSkipsFullAndInactiveAccounts(t *testing.T) {
	// A has room, B is at its limit, C is inactive.
	store := newFakeStore(
		account("key-a", 2, 98, true),
		account("key-b", 99, 99, true),
		account("key-c", 0, 98, false),
	)
	prober := &fakeProber{counts: map[string]int{"key-a": 2, "key-b": 99}}
	pool := New(store, prober, nil)

	selected, err := pool.SelectUsableAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-a", selected.Credential)
	assert.Equal(t, 2, selected.CapacityUsed)
	// C is never probed; at most A and B are.
	assert.LessOrEqual(t, prober.calls, 3)
	assert.Equal(t, 2, store.snapshots["key-a"])
}

func TestSelectDeactivatesUnauthorizedAccount(t *testing.T) {
	store := newFakeStore(
		account("key-bad", 0, 98, true),
		account("key-good", 5, 98, true),
	)
	prober := &fakeProber{
		counts: map[string]int{"key-good": 5},
		errs: map[string]error{
			"key-bad": &heroku.Error{Kind: heroku.KindUnauthorized, Op: "probe capacity", Status: 401, Message: "invalid credentials"},
		},
	}
	pool := New(store, prober, nil)

	selected, err := pool.SelectUsableAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-good", selected.Credential)

	reason, deactivated := store.deactivated["key-bad"]
	assert.True(t, deactivated)
	assert.Contains(t, reason, "invalid credentials")

	// Deactivated accounts never come back on their own.
	active, err := store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "key-good", active[0].Credential)
}

func TestSelectSkipsTransientErrorWithoutDeactivating(t *testing.T) {
	store := newFakeStore(
		account("key-flaky", 0, 98, true),
	)
	prober := &fakeProber{
		errs: map[string]error{
			"key-flaky": &heroku.Error{Kind: heroku.KindTransient, Op: "probe capacity", Message: "timeout"},
		},
	}
	pool := New(store, prober, nil)

	_, err := pool.SelectUsableAccount(context.Background())
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Empty(t, store.deactivated)
}

func TestSelectExhaustedPoolReturnsNoCapacity(t *testing.T) {
	store := newFakeStore(
		account("key-a", 98, 98, true),
		account("key-b", 99, 99, true),
	)
	prober := &fakeProber{counts: map[string]int{"key-a": 98, "key-b": 99}}
	pool := New(store, prober, nil)

	selected, err := pool.SelectUsableAccount(context.Background())
	assert.Nil(t, selected)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestSelectNeverReturnsAccountAtLimit(t *testing.T) {
	// The probe reports a count that already hit the row's own limit even
	// though the cached counter said otherwise.
	store := newFakeStore(account("key-a", 2, 98, true))
	prober := &fakeProber{counts: map[string]int{"key-a": 98}}
	pool := New(store, prober, nil)

	_, err := pool.SelectUsableAccount(context.Background())
	assert.ErrorIs(t, err, ErrNoCapacity)
	// The snapshot is still recorded for observability.
	assert.Equal(t, 98, store.snapshots["key-a"])
}
