package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for range 20 {
		wg.Go(func() {
			lease, err := l.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, lease.Release(context.Background()))
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLocal_WaitHonorsContext(t *testing.T) {
	l := NewLocal()
	held, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, held.Release(context.Background()))
	lease, err := l.Acquire(context.Background())
	require.NoError(t, err, "lock is free again after release")
	require.NoError(t, lease.Release(context.Background()))
}

func TestLocal_CanceledContextNeverAcquires(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Acquire(ctx)

	require.ErrorIs(t, err, context.Canceled)
	lease, err := l.Acquire(context.Background())
	require.NoError(t, err, "failed acquire must not leak the lock")
	require.NoError(t, lease.Release(context.Background()))
}

func TestLocal_DoubleReleaseIsSafe(t *testing.T) {
	l := NewLocal()
	lease, err := l.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, lease.Release(context.Background()))
	require.NoError(t, lease.Release(context.Background()))
	assert.NoError(t, lease.Err())

	other, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, other.Release(context.Background()))
}
