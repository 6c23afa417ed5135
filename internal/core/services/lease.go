package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// lease is a held distributed lock that is extended at half its TTL until
// released, so a slow language-model call never outlives its cell lock.
type lease struct {
	lock   driven.DistributedLock
	name   string
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// acquireLease takes name. It returns nil, nil when another holder has it.
func acquireLease(ctx context.Context, lock driven.DistributedLock, name string, ttl time.Duration, logger *slog.Logger) (*lease, error) {
	acquired, err := lock.Acquire(ctx, name, ttl)
	if err != nil || !acquired {
		return nil, err
	}

	l := &lease{
		lock:   lock,
		name:   name,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.keepAlive(context.WithoutCancel(ctx), ttl)
	return l, nil
}

func (l *lease) keepAlive(ctx context.Context, ttl time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.lock.Extend(ctx, l.name, ttl); err != nil {
				l.logger.Warn("lost lock", "lock", l.name, "error", err)
				return
			}
		}
	}
}

// Release stops the renewals and frees the lock. Safe to call twice.
func (l *lease) Release(ctx context.Context) {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if err := l.lock.Release(context.WithoutCancel(ctx), l.name); err != nil {
			l.logger.Warn("failed to release lock", "lock", l.name, "error", err)
		}
	})
}
