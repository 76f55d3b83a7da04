package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore 支付确认去重。网关会重试投递 webhook，
// 同一 intent 的并发确认只允许一个进入结算。
type IdempotencyStore interface {
	AcquireConfirm(ctx context.Context, intentID string) (bool, error)
	ReleaseConfirm(ctx context.Context, intentID string) error
}

type redisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotencyStore(rdb *redis.Client) IdempotencyStore {
	return &redisIdempotencyStore{rdb: rdb, ttl: 24 * time.Hour}
}

func (s *redisIdempotencyStore) AcquireConfirm(ctx context.Context, intentID string) (bool, error) {
	return s.rdb.SetNX(ctx, "payment:confirm:"+intentID, 1, s.ttl).Result()
}

// ReleaseConfirm 结算失败时释放去重键，让网关重试得以进入
func (s *redisIdempotencyStore) ReleaseConfirm(ctx context.Context, intentID string) error {
	return s.rdb.Del(ctx, "payment:confirm:"+intentID).Err()
}
