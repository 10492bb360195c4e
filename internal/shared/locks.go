package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another worker owns the lock.
var ErrLockHeld = errors.New("lock held by another worker")

// GenerationLockKey builds redis keys guarding scheduled due generation runs.
func GenerationLockKey(year, month int, scope string) string {
	return fmt.Sprintf("fees:generate:%04d-%02d:%s:lock", year, month, scope)
}

// RedisLocker hands out short-lived exclusive locks backed by SET NX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs a locker. A nil client yields a locker that always succeeds.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Acquire takes the lock for ttl and returns a release func.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
