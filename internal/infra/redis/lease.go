package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another instance holds the lease.
var ErrLeaseHeld = errors.New("lease held by another instance")

// Only the holder's token may release or extend a lease.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Lease is a held cross-instance lock.
type Lease struct {
	client *Client
	key    string
	token  string
}

// AcquireLease takes the named lease for ttl or returns ErrLeaseHeld.
func (c *Client) AcquireLease(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := c.leaseKey(name)
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &Lease{client: c, key: key, token: token}, nil
}

// Refresh extends the lease. It fails with ErrLeaseHeld if the lease was lost.
func (l *Lease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// Release gives the lease up if still held.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// CycleLock is a try-lock over a named lease.
type CycleLock struct {
	client *Client
	name   string
	ttl    time.Duration
}

// CycleLock returns a lock over the named lease held for at most ttl.
func (c *Client) CycleLock(name string, ttl time.Duration) *CycleLock {
	return &CycleLock{client: c, name: name, ttl: ttl}
}

// TryLock takes the lease without waiting.
func (l *CycleLock) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	lease, err := l.client.AcquireLease(ctx, l.name, l.ttl)
	if errors.Is(err, ErrLeaseHeld) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lease.Release, true, nil
}
