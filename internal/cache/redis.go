package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pointledger/internal/points"
)

const balanceKeyPrefix = "pointledger:balance:"

type redisBalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisBalanceCache shares cached balances across instances. Read and
// write failures degrade to a cache miss.
func NewRedisBalanceCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) BalanceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisBalanceCache{client: client, ttl: ttl, logger: logger}
}

func (c *redisBalanceCache) Get(ctx context.Context, accountID string) (points.Amount, bool) {
	raw, err := c.client.Get(ctx, balanceKeyPrefix+accountID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("balance cache read failed", zap.String("account_id", accountID), zap.Error(err))
		}
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return points.Amount(value), true
}

func (c *redisBalanceCache) Set(ctx context.Context, accountID string, balance points.Amount) {
	if c.ttl <= 0 {
		return
	}
	err := c.client.Set(ctx, balanceKeyPrefix+accountID, strconv.FormatInt(int64(balance), 10), c.ttl).Err()
	if err != nil {
		c.logger.Warn("balance cache write failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (c *redisBalanceCache) Invalidate(ctx context.Context, accountID string) error {
	return c.client.Del(ctx, balanceKeyPrefix+accountID).Err()
}
