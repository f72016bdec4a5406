package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "vhlr:cache:"

// touchOrSetScript slides the expiry of an existing key without touching its value,
// or inserts the key when absent. Running it as one script keeps the check atomic.
var touchOrSetScript = redis.NewScript(`
-- KEYS[1] = key
-- ARGV[1] = value
-- ARGV[2] = ttl_ms
if redis.call('PEXPIRE', KEYS[1], ARGV[2]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Redis stores entries as plain keys with a server-side expiry.
// The client is owned by the caller; Close does not close it.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(rdb *redis.Client, ttl time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis cache get: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, opts ...SetOption) error {
	if applySetOptions(opts).keepValue {
		if err := touchOrSetScript.Run(ctx, r.rdb, []string{r.key(key)}, value, r.ttl.Milliseconds()).Err(); err != nil {
			return fmt.Errorf("redis cache touch: %w", err)
		}
		return nil
	}
	if err := r.rdb.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache remove: %w", err)
	}
	return nil
}

// Count is not offered: keys share the server with other data. Use DBSIZE or SCAN
// against the prefix out of band.
func (r *Redis) Count(context.Context) (int, error) {
	return 0, ErrCountUnsupported
}

func (r *Redis) Close() error { return nil }
