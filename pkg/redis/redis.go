package redis

import (
	"context"
	"time"

	"britepool/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

// New returns nil when REDIS.ADDR is empty; callers treat a nil client as
// "redis disabled".
func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	if c.Redis.Addr == "" {
		zap.L().Info("[Redis] REDIS.ADDR not set, redis disabled")
		return nil
	}

	zapLog := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.Int("pool_size", c.Redis.PoolSize),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	if err := ping(rdb, 5, 3*time.Second); err != nil {
		// the idempotency store degrades to the database constraint
		zapLog.Warn("[Redis] Redis unreachable, continuing without it", zap.Error(err))
	} else {
		zapLog.Info("[Redis] Connected to Redis")
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}

func ping(rdb *redis.Client, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = rdb.Ping(context.Background()).Err(); err == nil {
			return nil
		}
		zap.L().Warn("[Redis] Redis not ready, retrying", zap.Int("retry", i+1), zap.Duration("backoff", backoff), zap.Error(err))
		time.Sleep(backoff)
	}
	return err
}
