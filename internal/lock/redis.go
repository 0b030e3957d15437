package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock is held by another worker")

var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// Locker hands out keyed mutual exclusion across service instances.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RedisLocker implements Locker with SET NX leases. A lease expires after
// ttl so a crashed holder cannot block the key forever.
type RedisLocker struct {
	rdb      *redis.Client
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
	newToken func() string
}

func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		ttl:      ttl,
		wait:     wait,
		interval: 50 * time.Millisecond,
		newToken: uuid.NewString,
	}
}

// Acquire takes the lease on key, polling for up to the configured wait.
// The returned release only deletes the key while this caller still owns it.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	key = "lock:" + key
	token := l.newToken()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseScript.Run(context.WithoutCancel(ctx), l.rdb, []string{key}, token) //nolint:errcheck
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}
}
