package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementBelowScript returns {count, incremented}.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = ttl in milliseconds, 0 for no expiry
var incrementBelowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= limit then
	return {current, 0}
end
if current == 0 then
	local ttl = tonumber(ARGV[2])
	if ttl > 0 then
		redis.call('SET', KEYS[1], 1, 'PX', ttl)
	else
		redis.call('SET', KEYS[1], 1)
	end
	return {1, 1}
end
return {redis.call('INCR', KEYS[1]), 1}
`)

// RedisStore shares keys across every instance pointed at the same Redis.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("kvstore: delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) IncrementBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrementBelowScript.Run(ctx, r.client, []string{r.key(key)}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("kvstore: increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("kvstore: increment %s: unexpected reply %v", key, res)
	}
	return res[0], res[1] == 1, nil
}
