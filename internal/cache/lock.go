package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work on a key. Acquire returns false when the key is
// already held; the release function is a no-op if the lock expired and
// was taken over in the meantime.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// releaseScript deletes the lock only if the token still matches, so an
// expired lock reacquired by another holder is never released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

type redisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker returns a Locker backed by SET NX with token'd release.
func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{client: client, prefix: "siteforge:lock:"}
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	full := l.prefix + key
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.client.Eval(ctx, releaseScript, []string{full}, token).Err()
	}
	return release, true, nil
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewMemoryLocker returns an in-process Locker for single-instance
// deployments and tests.
func NewMemoryLocker() Locker {
	return &memoryLocker{held: make(map[string]time.Time)}
}

func (l *memoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, false, nil
	}
	l.held[key] = now.Add(ttl)
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}
	return release, true, nil
}
