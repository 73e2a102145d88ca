//go:build integration

package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"herdbook/internal/identity/lock"
	"herdbook/pkg/platform/sentinel"
	"herdbook/pkg/testutil/containers"
)

type RedisLockSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisLockSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockSuite))
}

func (s *RedisLockSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisLockSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLockSuite) newLocker(opts ...lock.RedisOption) *lock.Redis {
	opts = append([]lock.RedisOption{lock.WithRetryInterval(5 * time.Millisecond)}, opts...)
	return lock.NewRedis(s.redis.Client, opts...)
}

func (s *RedisLockSuite) TestMutualExclusionAcrossLockers() {
	// Separate lockers stand in for separate replicas.
	lockers := []*lock.Redis{s.newLocker(), s.newLocker(), s.newLocker()}
	var inside, violations atomic.Int32
	var wg sync.WaitGroup

	for i := range 15 {
		l := lockers[i%len(lockers)]
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			lease, err := l.Acquire(ctx)
			if !s.NoError(err) {
				return
			}
			if inside.Add(1) > 1 {
				violations.Add(1)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			s.NoError(lease.Release(context.Background()))
		})
	}
	wg.Wait()

	s.Zero(violations.Load())
}

func (s *RedisLockSuite) TestWaitHonorsContext() {
	holder, err := s.newLocker().Acquire(context.Background())
	s.Require().NoError(err)
	defer holder.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.newLocker().Acquire(ctx)

	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *RedisLockSuite) TestLeaseIsRefreshedWhileHeld() {
	l := s.newLocker(lock.WithLeaseTTL(150 * time.Millisecond))
	lease, err := l.Acquire(context.Background())
	s.Require().NoError(err)

	time.Sleep(500 * time.Millisecond)

	s.NoError(lease.Err())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.newLocker().Acquire(ctx)
	s.ErrorIs(err, context.DeadlineExceeded, "refreshed lease must still exclude others")
	s.NoError(lease.Release(context.Background()))
}

func (s *RedisLockSuite) TestStolenLeaseIsReportedLost() {
	l := s.newLocker(lock.WithKey("herdbook:test-lock"), lock.WithLeaseTTL(150*time.Millisecond))
	lease, err := l.Acquire(context.Background())
	s.Require().NoError(err)

	// Simulate expiry followed by another holder.
	s.Require().NoError(s.redis.Client.Set(context.Background(), "herdbook:test-lock", "someone-else", time.Minute).Err())

	s.Eventually(func() bool { return lease.Err() != nil }, time.Second, 10*time.Millisecond)
	s.ErrorIs(lease.Release(context.Background()), sentinel.ErrLockLost)

	val, err := s.redis.Client.Get(context.Background(), "herdbook:test-lock").Result()
	s.Require().NoError(err)
	s.Equal("someone-else", val, "release must not delete a successor's lock")
}

func (s *RedisLockSuite) TestExpiredWaitDoesNotOrphanToken() {
	const key = "herdbook:test-expired-wait"
	l := s.newLocker(lock.WithKey(key), lock.WithLeaseTTL(time.Minute))

	// Deadlines this short regularly fire while SET NX is in flight.
	for i := range 50 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(50+i*20)*time.Microsecond)
		lease, err := l.Acquire(ctx)
		cancel()
		if err == nil {
			s.Require().NoError(lease.Release(context.Background()))
			continue
		}
		s.Require().ErrorIs(err, context.DeadlineExceeded)

		// With a one minute TTL an orphaned token would block this for the full lease.
		next, cancelNext := context.WithTimeout(context.Background(), time.Second)
		lease, err = s.newLocker(lock.WithKey(key)).Acquire(next)
		cancelNext()
		s.Require().NoError(err, "attempt %d left the lock held", i)
		s.Require().NoError(lease.Release(context.Background()))
	}

	n, err := s.redis.Client.Exists(context.Background(), key).Result()
	s.Require().NoError(err)
	s.Zero(n)
}
