// Package storage holds the Redis-backed helpers of the chat core. Today that
// is the send deduplicator: a retried message:send with the same client
// message id maps back onto the message that was stored the first time.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"PChatCore/tools/errs"
	"PChatCore/tools/specialerror"
)

const (
	pendingValue  = "~pending"
	defaultPrefix = "chat:dedup:"
)

// 仅当值仍是占位时才删除
// KEYS[1] = dedup key
// ARGV[1] = pending marker
const luaReleasePending = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type RedisDeduper struct {
	rdb        redis.UniversalClient
	prefix     string
	ttl        time.Duration
	luaRelease *redis.Script
}

func NewRedisDeduper(rdb redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{
		rdb:        rdb,
		prefix:     defaultPrefix,
		ttl:        ttl,
		luaRelease: redis.NewScript(luaReleasePending),
	}
}

func (d *RedisDeduper) key(k string) string { return d.prefix + k }

// Reserve SETNX 占位；已有值时返回消息ID，占位中返回 Conflict
func (d *RedisDeduper) Reserve(ctx context.Context, key string) (string, error) {
	ok, err := d.rdb.SetNX(ctx, d.key(key), pendingValue, d.ttl).Result()
	if err != nil {
		return "", specialerror.Normalize(err)
	}
	if ok {
		return "", nil
	}
	val, err := d.rdb.Get(ctx, d.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		// 占位刚好过期或被释放
		return "", errs.ErrConflict.WrapMsg("send in flight, retry", "key", key)
	}
	if err != nil {
		return "", specialerror.Normalize(err)
	}
	if val == pendingValue {
		return "", errs.ErrConflict.WrapMsg("send in flight, retry", "key", key)
	}
	return val, nil
}

func (d *RedisDeduper) Commit(ctx context.Context, key, messageID string) error {
	if err := d.rdb.Set(ctx, d.key(key), messageID, d.ttl).Err(); err != nil {
		return specialerror.Normalize(err)
	}
	return nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.luaRelease.Run(ctx, d.rdb, []string{d.key(key)}, pendingValue).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return specialerror.Normalize(err)
	}
	return nil
}
