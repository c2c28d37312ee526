package redisclient

import (
	"context"
	"fmt"
	"time"
)

const nameReservationPrefix = "deploy:name:"

// NameReservationKey is the lock key for an in-flight remote name.
func NameReservationKey(remoteName string) string {
	return nameReservationPrefix + remoteName
}

// Reservations is a Redis-backed lock on remote names, so two concurrent
// provisioning requests for the same name cannot both reach the remote
// create step. The TTL covers a crashed workflow: the reservation expires
// and the name becomes claimable again.
type Reservations struct {
	client *Client
	ttl    time.Duration
}

// NewReservations creates a reservation lock with the given TTL.
func NewReservations(client *Client, ttl time.Duration) *Reservations {
	return &Reservations{client: client, ttl: ttl}
}

// Reserve claims the remote name. Returns false when another request
// already holds it.
func (r *Reservations) Reserve(ctx context.Context, remoteName string) (bool, error) {
	ok, err := r.client.GetRedis().SetNX(ctx, NameReservationKey(remoteName), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve name %q: %w", remoteName, err)
	}
	return ok, nil
}

// Release frees the remote name once the workflow has recorded its outcome.
func (r *Reservations) Release(ctx context.Context, remoteName string) error {
	return r.client.GetRedis().Del(ctx, NameReservationKey(remoteName)).Err()
}
