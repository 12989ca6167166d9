package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only while it still carries our token
// so an expired lease taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLock is a Locker backed by SET NX PX.
type RedisLock struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLock(rdb *redis.Client, prefix string) *RedisLock {
	if prefix == "" {
		prefix = "lock"
	}
	return &RedisLock{rdb: rdb, prefix: prefix}
}

func (l *RedisLock) key(name string) string { return l.prefix + ":" + name }

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	key := l.key(name)
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
