package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "tally:lock:"

// Lock implements DistributedLock with SET NX PX. The value is this
// instance's owner ID, so only the instance that took a lock can release
// or extend it.
type Lock struct {
	client  *redis.Client
	ownerID string
}

// NewLock creates a new Redis-backed distributed lock.
func NewLock(client *redis.Client) *Lock {
	hostname, _ := os.Hostname()
	return &Lock{
		client:  client,
		ownerID: fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()),
	}
}

// ownedScript runs ARGV[2] ("del" or "pexpire") on KEYS[1] only while the
// key still holds the owner ID in ARGV[1]. Returns 0 when it does not.
var ownedScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) ~= ARGV[1] then
		return 0
	end
	if ARGV[2] == "del" then
		return redis.call("del", KEYS[1])
	end
	return redis.call("pexpire", KEYS[1], ARGV[3])
`)

// Acquire takes name for ttl. Returns false if another instance holds it.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockPrefix+name, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release frees name if this instance holds it. Releasing an expired or
// foreign lock is not an error.
func (l *Lock) Release(ctx context.Context, name string) error {
	_, err := l.owned(ctx, name, "del", 0)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend resets the TTL of a lock this instance holds. It fails with
// ErrConflict once the lock has expired or been taken by someone else.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := l.owned(ctx, name, "pexpire", ttl)
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: lock %s not held by this instance", domain.ErrConflict, name)
	}
	return nil
}

func (l *Lock) owned(ctx context.Context, name, op string, ttl time.Duration) (int64, error) {
	n, err := ownedScript.Run(ctx, l.client, []string{lockPrefix + name}, l.ownerID, op, ttl.Milliseconds()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// OwnerID identifies this instance in lock values.
func (l *Lock) OwnerID() string {
	return l.ownerID
}
