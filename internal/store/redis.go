package store

import (
	"context"
	"fmt"
	"time"

	"event-attach/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisBackend 는 첨부를 SET key body EX ttl 로 저장한다.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend 는 REDIS_URL 을 파싱하고 PING 으로 연결을 확인한다.
func NewRedisBackend(ctx context.Context, cfg config.Config) (*RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: ping redis: %w", err)
	}

	return &RedisBackend{client: client, ttl: cfg.RedisTTL}, nil
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Put(ctx context.Context, key string, body []byte) error {
	if err := b.client.Set(ctx, key, body, b.ttl).Err(); err != nil {
		return fmt.Errorf("store: redis set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
