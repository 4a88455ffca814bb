package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by Acquire when ctx ends before the lock is free.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the lease only if it still carries our token, so an
// expired lease taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

const retryInterval = 25 * time.Millisecond

// Locker provides mutual exclusion per key. Holders in the same process are
// excluded through a local map; holders in other processes through a Redis
// lease with a TTL. A nil Redis client yields a process-local locker.
type Locker struct {
	rdb   *redis.Client
	ttl   time.Duration
	local sync.Map
}

// NewLocker creates a Locker whose Redis leases expire after ttl.
func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// TryAcquire takes the lock for key without waiting. ok is false when another
// holder owns it. The returned func releases the lock.
func (l *Locker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	if _, loaded := l.local.LoadOrStore(key, token); loaded {
		return nil, false, nil
	}

	if l.rdb != nil {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			l.local.Delete(key)
			return nil, false, err
		}
		if !ok {
			l.local.Delete(key)
			return nil, false, nil
		}
	}

	return func() {
		if l.rdb != nil {
			// The caller's ctx may already be cancelled; the lease must still go.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err()
			cancel()
		}
		l.local.CompareAndDelete(key, token)
	}, true, nil
}

// Acquire waits for the lock on key until ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		release, ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}
