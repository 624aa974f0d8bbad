// Package lock provides named exclusive locks and per-key FIFO queues.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotHeld is returned when extending a lock owned by someone else.
var ErrNotHeld = errors.New("lock not held")

// Locker grants exclusive, expiring ownership of a name.
type Locker interface {
	// TryAcquire returns false without blocking when the name is held.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release is a no-op when the lock is not held by this locker.
	Release(ctx context.Context, name string) error
	Extend(ctx context.Context, name string, ttl time.Duration) error
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	held  map[string]time.Time // name -> expiry
	nowFn func() time.Time
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), nowFn: time.Now}
}

func (l *Local) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if exp, ok := l.held[name]; ok && now.Before(exp) {
		return false, nil
	}
	l.held[name] = now.Add(ttl)
	return true, nil
}

func (l *Local) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}

func (l *Local) Extend(ctx context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if exp, ok := l.held[name]; !ok || !now.Before(exp) {
		return ErrNotHeld
	}
	l.held[name] = now.Add(ttl)
	return nil
}
