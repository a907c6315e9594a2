package store

import (
	"context"
	"fmt"

	"event-attach/internal/config"
	"event-attach/internal/metrics"
)

// Backend 는 첨부를 최종적으로 받는 destination store 이다.
// Put 은 한 번만 시도한다. 재시도와 spool 은 Dispatcher 가 담당한다.
type Backend interface {
	Put(ctx context.Context, key string, body []byte) error
	Name() string
	Close() error
}

// New 는 STORE_BACKEND 설정에 맞는 Backend 를 만든다.
func New(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendS3:
		return NewS3Backend(ctx, cfg)
	case config.BackendNATS:
		return NewNATSBackend(cfg)
	case config.BackendRedis:
		return NewRedisBackend(ctx, cfg)
	case config.BackendMemory, "":
		return NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("store: unknown backend %q", cfg.StoreBackend)
}

// Open 은 backend, spool(SPOOL_DIR 이 있을 때), Dispatcher 를 한 번에 구성한다.
// 반환된 Dispatcher 는 Start 전 상태이다.
func Open(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Dispatcher, error) {
	backend, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var spool *Spool
	if cfg.SpoolDir != "" {
		if spool, err = NewSpool(cfg, m); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	return NewDispatcher(cfg, m, backend, spool), nil
}
