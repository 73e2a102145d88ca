package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"herdbook/pkg/platform/sentinel"
)

const (
	defaultRedisLockKey   = "herdbook:register-lock"
	defaultRedisLockTTL   = 30 * time.Second
	defaultRedisLockRetry = 50 * time.Millisecond
	// Bounds the token cleanup after a SET NX whose outcome is unknown.
	redisAbandonTimeout = time.Second
)

// Release and refresh only touch the key while it still holds our token, so a
// holder whose lease expired can never delete or extend a successor's lock.
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

// Redis extends the exclusion domain across processes sharing one record
// store. The lock is a SET NX PX key holding a random token; a background
// refresher extends it every ttl/3 while held.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

type RedisOption func(*Redis)

func WithKey(key string) RedisOption {
	return func(l *Redis) {
		if key != "" {
			l.key = key
		}
	}
}

// WithLeaseTTL sets how long the lock survives a crashed holder.
func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(l *Redis) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithRetryInterval(d time.Duration) RedisOption {
	return func(l *Redis) {
		if d > 0 {
			l.retry = d
		}
	}
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(l *Redis) {
		l.logger = logger
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	l := &Redis{
		client: client,
		key:    defaultRedisLockKey,
		ttl:    defaultRedisLockTTL,
		retry:  defaultRedisLockRetry,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

func (l *Redis) Acquire(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// The SET may have applied before the deadline hit; remove our
				// token so the key does not block other registrants for a full TTL.
				l.abandon(ctx, token)
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire %s: %w: %w", l.key, sentinel.ErrUnavailable, err)
		}
		if ok {
			return l.newLease(token), nil
		}
		timer.Reset(l.retry)
	}
}

func (l *Redis) abandon(ctx context.Context, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisAbandonTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		l.logger.WarnContext(ctx, "register lock cleanup failed", "key", l.key, "error", err)
	}
}

func (l *Redis) newLease(token string) *redisLease {
	refreshCtx, cancel := context.WithCancel(context.Background())
	lease := &redisLease{
		locker: l,
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go lease.refresh(refreshCtx)
	return lease
}

type redisLease struct {
	locker *Redis
	token  string
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	lost error
	once sync.Once
}

func (r *redisLease) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

func (r *redisLease) markLost(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lost == nil {
		r.lost = err
	}
}

func (r *redisLease) refresh(ctx context.Context) {
	defer close(r.done)
	l := r.locker
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := refreshScript.Run(ctx, l.client, []string{l.key}, r.token, l.ttl.Milliseconds()).Int()
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			// A transient error is not yet a lost lease; the key still has up to
			// two thirds of its TTL left.
			l.logger.WarnContext(ctx, "register lock refresh failed", "key", l.key, "error", err)
			continue
		}
		if n == 0 {
			r.markLost(fmt.Errorf("register lock %s: %w", l.key, sentinel.ErrLockLost))
			l.logger.ErrorContext(ctx, "register lock lost while held", "key", l.key)
			return
		}
	}
}

func (r *redisLease) Release(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		r.cancel()
		<-r.done
		l := r.locker
		var n int
		n, err = releaseScript.Run(ctx, l.client, []string{l.key}, r.token).Int()
		if err != nil {
			err = fmt.Errorf("release %s: %w", l.key, err)
			return
		}
		if n == 0 {
			err = fmt.Errorf("release %s: %w", l.key, sentinel.ErrLockLost)
		}
	})
	return err
}
