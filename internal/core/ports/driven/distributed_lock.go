package driven

import (
	"context"
	"time"
)

// DistributedLock guards a single grid cell while it is being evaluated so
// that two instances never generate the same (document, control) response.
type DistributedLock interface {
	// Acquire attempts to acquire a named lock with the given TTL.
	// Returns false if another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release releases a named lock. Safe to call when the lock has expired.
	Release(ctx context.Context, name string) error

	// Extend extends the TTL of a currently held lock.
	// Backends without TTLs (PostgreSQL advisory locks) treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
