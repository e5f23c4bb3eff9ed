package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// versionTTL bounds the lifetime of generation counters.  It only has to
// outlast one store read.
const versionTTL = 24 * time.Hour

// invalidateScript bumps the generation (KEYS[2]) and drops the value (KEYS[1]).
var invalidateScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return v
`)

// setIfVersionScript stores ARGV[2] under KEYS[1] only while KEYS[2] still
// holds ARGV[1].  ARGV[3] is the TTL in milliseconds, 0 for none.
var setIfVersionScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if cur ~= tonumber(ARGV[1]) then
    return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
    redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
    redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// Redis stores values as JSON strings in Redis.  The generation of a key
// lives next to it under "<key>:v".
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis wraps an existing client.  prefix, if set, is prepended to every
// key with a ":" separator.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) Get(ctx context.Context, key string, dst any) error {
	b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(key), b, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

func (r *Redis) versionKey(k string) string { return r.key(k) + ":v" }

func (r *Redis) Version(ctx context.Context, key string) (int64, error) {
	v, err := r.rdb.Get(ctx, r.versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *Redis) Invalidate(ctx context.Context, key string) error {
	return invalidateScript.Run(ctx, r.rdb, []string{r.key(key), r.versionKey(key)},
		int64(versionTTL/time.Second)).Err()
}

func (r *Redis) SetIfVersion(ctx context.Context, key string, version int64, value any, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	n, err := setIfVersionScript.Run(ctx, r.rdb, []string{r.key(key), r.versionKey(key)},
		version, b, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Backend() string { return "redis" }
