// internal/pkg/lock/lock.go
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "netbill-service/internal/pkg/errors"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Release frees a held lock.
type Release func(ctx context.Context) error

// Locker hands out named mutual-exclusion locks.
// Acquire fails with xerrors.ErrLockBusy when the lock cannot be taken.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

const SubscriberKeyPrefix = "ppp:lock:subscriber:"

func SubscriberKey(username string) string {
	return SubscriberKeyPrefix + username
}

func JobKey(job string) string {
	return "ppp:lock:job:" + job
}

// Options configure a Redis locker.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// Redis is a redsync-backed distributed locker.
type Redis struct {
	rs   *redsync.Redsync
	opts Options
}

func NewRedsync(rdb redis.UniversalClient) *redsync.Redsync {
	return redsync.New(goredis.NewPool(rdb))
}

func NewRedis(rs *redsync.Redsync, opts Options) *Redis {
	if opts.Expiry <= 0 {
		opts.Expiry = 30 * time.Second
	}
	if opts.Tries < 1 {
		opts.Tries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &Redis{rs: rs, opts: opts}
}

func (l *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	m := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := m.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", xerrors.ErrLockBusy, key, err)
	}

	return func(ctx context.Context) error {
		if _, err := m.UnlockContext(ctx); err != nil {
			return fmt.Errorf("unlock %s: %w", key, err)
		}
		return nil
	}, nil
}

// Local is an in-process locker for tests and single-node deployments.
// With wait=false it behaves like a single-try lock.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait bool
}

func NewLocal(wait bool) *Local {
	return &Local{held: make(map[string]chan struct{}), wait: wait}
}

func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			return l.release(key, ch), nil
		}
		l.mu.Unlock()

		if !l.wait {
			return nil, fmt.Errorf("%w: %s", xerrors.ErrLockBusy, key)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Local) release(key string, ch chan struct{}) Release {
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key] == ch {
				delete(l.held, key)
			}
			l.mu.Unlock()
			close(ch)
		})
		return nil
	}
}
