package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// KV 计数器与幂等标记使用的最小 Redis 子集
type KV interface {
	// SetNX 仅当 key 不存在时写入；返回 true 表示本次写入成功
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, keys ...string) error
}

type RedisKV struct {
	c *redis.Client
}

var _ KV = (*RedisKV)(nil)

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisKV) Incr(ctx context.Context, key string) (int64, error) {
	return r.c.Incr(ctx, key).Result()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.c.Del(ctx, keys...).Err()
}
