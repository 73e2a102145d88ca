// Package lock provides the exclusion domain that serializes registrations.
package lock

import (
	"context"
	"sync"
)

// Locker is the exclusion domain guarding a scan-then-insert sequence.
type Locker interface {
	// Acquire blocks until the lock is held or ctx is done.
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	// Err reports a lease that was lost while held (e.g. a distributed lease
	// expired). Writes must not proceed once Err is non-nil.
	Err() error
	Release(ctx context.Context) error
}

// Local is a process-wide exclusive lock that honors cancellation while
// waiting, which sync.Mutex cannot.
type Local struct {
	sem chan struct{}
}

func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

func (l *Local) Acquire(ctx context.Context) (Lease, error) {
	// Prefer a done context over a free lock so cancellation is deterministic.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case l.sem <- struct{}{}:
		return &localLease{sem: l.sem}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localLease struct {
	sem  chan struct{}
	once sync.Once
}

func (l *localLease) Err() error {
	return nil
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() { <-l.sem })
	return nil
}
