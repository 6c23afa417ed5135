package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock keeps cell locks in memory with TTLs.
type MockDistributedLock struct {
	mu       sync.Mutex
	locks    map[string]time.Time
	acquired []string
	extended int

	AcquireErr error
	PingErr    error
}

// NewMockDistributedLock creates an empty lock table
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		locks: make(map[string]time.Time),
	}
}

// Acquire takes name unless an unexpired holder exists
func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireErr != nil {
		return false, m.AcquireErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, held := m.locks[name]; held && time.Now().Before(expiry) {
		return false, nil
	}
	m.locks[name] = time.Now().Add(ttl)
	m.acquired = append(m.acquired, name)
	return true, nil
}

// Release drops name
func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, name)
	return nil
}

// Extend pushes the expiry of a held lock
func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, held := m.locks[name]
	if !held || time.Now().After(expiry) {
		return fmt.Errorf("lock %s not held", name)
	}
	m.locks[name] = time.Now().Add(ttl)
	m.extended++
	return nil
}

// Ping returns PingErr
func (m *MockDistributedLock) Ping(ctx context.Context) error {
	return m.PingErr
}

// Hold marks name as held by someone else
func (m *MockDistributedLock) Hold(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[name] = time.Now().Add(ttl)
}

// IsHeld reports whether name is currently locked
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, held := m.locks[name]
	return held && time.Now().Before(expiry)
}

// Acquired returns every name successfully acquired, in order
func (m *MockDistributedLock) Acquired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acquired...)
}

// Extensions returns how many times a held lock was extended
func (m *MockDistributedLock) Extensions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extended
}
