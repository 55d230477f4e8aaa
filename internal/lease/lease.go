// Package lease provides a Redis-backed mutual exclusion lease so that only one
// replica runs a periodic job at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key guarding fraud detection runs.
const DefaultKey = "votetally:lease:fraud-detection"

// ErrNotHeld is returned by Release when the lease belongs to someone else or
// has already expired.
var ErrNotHeld = errors.New("lease not held")

// Owner-checked delete: a holder whose TTL lapsed must not drop a newer holder's key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RunLease is a single-holder lease stored under one Redis key with a TTL.
type RunLease struct {
	client  *redis.Client
	key     string
	ownerID string
	ttl     time.Duration
}

// New creates a lease on key. The owner id is random per process; ttl bounds how
// long a crashed holder can block the others.
func New(client *redis.Client, key string, ttl time.Duration) *RunLease {
	return &RunLease{
		client:  client,
		key:     key,
		ownerID: uuid.NewString(),
		ttl:     ttl,
	}
}

// OwnerID identifies this process as a lease holder.
func (l *RunLease) OwnerID() string { return l.ownerID }

// TryAcquire takes the lease if nobody holds it. It never blocks waiting for
// the current holder.
func (l *RunLease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.ownerID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return ok, nil
}

// Release gives the lease back if this process still holds it.
func (l *RunLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.ownerID).Int64()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Holder returns the owner id currently holding the lease, or "" if free.
func (l *RunLease) Holder(ctx context.Context) (string, error) {
	owner, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease %s: %w", l.key, err)
	}
	return owner, nil
}
