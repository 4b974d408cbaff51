package idempotency

//go:generate mockgen -source=store.go -destination=mock_store.go -package=idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("idempotency", fx.Provide(New))

// Store reserves client idempotency keys.
//
// Reserve stores value under key when the key is free and reports reserved.
// When the key is already taken it returns the value stored by the first
// caller.
type Store interface {
	Reserve(ctx context.Context, key, value string, ttl time.Duration) (existing string, reserved bool, err error)
	Release(ctx context.Context, key string) error
}

type StoreParams struct {
	fx.In
	Redis *redis.Client `optional:"true"`
}

// New returns the redis store, or a store that reserves every key when redis
// is not configured.
func New(p StoreParams) Store {
	if p.Redis == nil {
		zap.L().Warn("[Idempotency] redis disabled, replays are detected from the database only")
		return NopStore{}
	}
	return NewRedisStore(p.Redis)
}

type redisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Reserve(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	// one retry covers a key that expires between SETNX and GET
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return value, true, nil
		}

		existing, err := s.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read idempotency key: %w", err)
		}
		return existing, false, nil
	}
	return "", false, fmt.Errorf("reserve idempotency key: key %q kept expiring", key)
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

type NopStore struct{}

func (NopStore) Reserve(_ context.Context, _, value string, _ time.Duration) (string, bool, error) {
	return value, true, nil
}

func (NopStore) Release(context.Context, string) error { return nil }
