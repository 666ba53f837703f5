package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var _ Locker = (*RedisLocker)(nil)

// RedisLocker is a Locker shared by every server instance, built on the
// RedLock algorithm. Each key is a separate redsync mutex.
type RedisLocker struct {
	rs         *redsync.Redsync
	prefix     string
	expiry     time.Duration
	retryDelay time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithExpiry sets how long a key is held before Redis expires it.
// It must comfortably exceed the longest settlement transaction.
func WithExpiry(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.expiry = d
		}
	}
}

// WithRetryDelay sets the pause between acquisition attempts.
func WithRetryDelay(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// WithPrefix namespaces the Redis keys.
func WithPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) { l.prefix = prefix }
}

// NewRedisLocker creates a RedisLocker on client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		rs:         redsync.New(goredis.NewPool(client)),
		prefix:     "jobsettle:lock:",
		expiry:     10 * time.Second,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire implements Locker. The wait is bounded by ctx, not by a retry count.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := orderKeys(keys)
	held := make([]*redsync.Mutex, 0, len(ordered))

	for _, key := range ordered {
		m := l.rs.NewMutex(l.prefix+key,
			redsync.WithExpiry(l.expiry),
			redsync.WithTries(math.MaxInt32),
			redsync.WithRetryDelay(l.retryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			unlockAll(held)
			var taken *redsync.ErrTaken
			if ctx.Err() != nil || errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
				return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, key, err)
			}
			return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
		}
		held = append(held, m)
	}

	var once sync.Once
	return func() { once.Do(func() { unlockAll(held) }) }, nil
}

// unlockAll releases in reverse acquisition order. Unlock uses a fresh
// context so a canceled request still frees its keys.
func unlockAll(held []*redsync.Mutex) {
	for i := len(held) - 1; i >= 0; i-- {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if ok, err := held[i].UnlockContext(ctx); err != nil || !ok {
			slog.Warn("Failed to release lock", "key", held[i].Name(), "error", err)
		}
		cancel()
	}
}
