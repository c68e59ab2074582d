// Package locks provides owner-scoped exclusive leases in Redis.
package locks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

var errInvalidLock = errors.New("resource and owner required")

// Locker hands out exclusive leases. Only the owner may renew or release.
type Locker interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resource, owner string) (bool, error)
}

// compare-and-delete so an expired holder cannot drop a successor's lease
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return false, err
	}
	return l.client.SetNX(ctx, lockKey(resource), owner, normalizeTTL(ttl)).Result()
}

func (l *RedisLocker) Renew(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return false, err
	}
	n, err := renewScript.Run(ctx, l.client, []string{lockKey(resource)}, owner, normalizeTTL(ttl).Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, resource, owner string) (bool, error) {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, l.client, []string{lockKey(resource)}, owner).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Owner returns the current holder, or "" when the resource is free.
func (l *RedisLocker) Owner(ctx context.Context, resource string) (string, error) {
	owner, err := l.client.Get(ctx, lockKey(strings.TrimSpace(resource))).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

func normalize(resource, owner string) (string, string, error) {
	resource = strings.TrimSpace(resource)
	owner = strings.TrimSpace(owner)
	if resource == "" || owner == "" {
		return "", "", errInvalidLock
	}
	return resource, owner, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

func lockKey(resource string) string {
	return "lock:" + resource
}
