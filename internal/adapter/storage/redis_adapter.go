package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyTTL = 24 * time.Hour
	defaultLockTTL    = 10 * time.Second
	lockRetryMin      = 5 * time.Millisecond
	lockRetryMax      = 200 * time.Millisecond
	lockReleaseWait   = 2 * time.Second
)

// releaseLockScript deletes the lock only while it still carries our token,
// so an expired lock taken over by another holder is left alone.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

// RedisAdapter provides the distributed per-key lock and request idempotency
// when several ledger processes share one store.
type RedisAdapter struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, lockTTL time.Duration) *RedisAdapter {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &RedisAdapter{client: client, lockTTL: lockTTL}
}

// Lock polls SET NX with exponential backoff until the key is free or ctx ends.
// The TTL bounds how long a crashed holder can block the key.
func (r *RedisAdapter) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	wait := lockRetryMin

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < lockRetryMax {
			wait *= 2
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), lockReleaseWait)
		defer cancel()
		// a failed release is covered by the TTL
		_ = releaseLockScript.Run(ctx, r.client, []string{key}, token).Err()
	}, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
