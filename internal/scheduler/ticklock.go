package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// TickLock serializes tick execution across dialer instances.
type TickLock interface {
	// TryAcquire attempts to take the lock. ok=false means another
	// holder owns it and this tick should be skipped.
	TryAcquire(ctx context.Context) (ok bool, err error)
	Release(ctx context.Context) error
}

// RedisTickLock is a SET NX PX lock with a per-acquisition token so a
// slow holder cannot release a lock that already expired and was taken
// by someone else.
type RedisTickLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisTickLock constructs the lock.
func NewRedisTickLock(client *redis.Client, key string, ttl time.Duration) *RedisTickLock {
	if key == "" {
		key = "autodialer:scheduler:tick"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisTickLock{client: client, key: key, ttl: ttl}
}

func (l *RedisTickLock) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("tick lock acquire: %w", err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

func (l *RedisTickLock) Release(ctx context.Context) error {
	script := redis.NewScript(`
local key = KEYS[1]
if redis.call('GET', key) == ARGV[1] then
  return redis.call('DEL', key)
end
return 0
`)
	if _, err := script.Run(ctx, l.client, []string{l.key}, l.token).Int(); err != nil {
		return fmt.Errorf("tick lock release: %w", err)
	}
	return nil
}
