package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisKey 从 Redis 读取其他进程写入的价格。
// Field 为空时读取字符串键 Key，否则读取哈希 Key 的 Field。
type RedisKey struct {
	Client redis.Cmdable
	Key    string
	Field  string
}

func NewRedisKey(client redis.Cmdable, key, field string) *RedisKey {
	return &RedisKey{Client: client, Key: key, Field: field}
}

func (r *RedisKey) FairPrice(ctx context.Context) (decimal.Decimal, error) {
	var (
		raw string
		err error
	)
	if r.Field == "" {
		raw, err = r.Client.Get(ctx, r.Key).Result()
	} else {
		raw, err = r.Client.HGet(ctx, r.Key, r.Field).Result()
	}
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, fmt.Errorf("%w: redis key %s%s missing", ErrStale, r.Key, fieldSuffix(r.Field))
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis get %s%s: %w", r.Key, fieldSuffix(r.Field), err)
	}
	return parsePrice(raw)
}

func fieldSuffix(field string) string {
	if field == "" {
		return ""
	}
	return "." + field
}
