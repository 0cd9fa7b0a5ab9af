package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures redis lock acquisition.
type Options struct {
	// Expiry bounds how long a crashed holder blocks the pool.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions returns the defaults used for pool mutations.
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedisLocker is a distributed Locker based on the RedLock algorithm.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts Options
	log  *zap.Logger
}

// NewRedisLocker builds a locker on top of an existing redis client.
func NewRedisLocker(client goredislib.UniversalClient, opts Options, log *zap.Logger) *RedisLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
		log:  log,
	}
}

// WithLock implements Locker. Keys are prefixed with "lock:" in redis and
// released in reverse acquisition order.
func (l *RedisLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilLockFn
	}
	keys, err := normalize(keys)
	if err != nil {
		return err
	}

	held := make([]*redsync.Mutex, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			if ok, err := held[i].UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
				l.log.Warn("release lock", zap.String("key", held[i].Name()), zap.Bool("unlock_ok", ok), zap.Error(err))
			}
		}
	}()

	for _, k := range keys {
		m := l.rs.NewMutex("lock:"+k,
			redsync.WithExpiry(l.opts.Expiry),
			redsync.WithTries(l.opts.Tries),
			redsync.WithRetryDelay(l.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			return fmt.Errorf("acquire lock %s: %w: %w", k, ErrNotAcquired, err)
		}
		held = append(held, m)
	}
	return fn(ctx)
}
