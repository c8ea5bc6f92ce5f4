package mapstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Kind       string // redis, sqlite or memory
	Redis      RedisOptions
	SQLitePath string
}

// OpenBackend creates the backend named by cfg.Kind.
func OpenBackend(ctx context.Context, cfg BackendConfig, log *zap.Logger) (Backend, error) {
	switch cfg.Kind {
	case "redis":
		log.Info("Using redis map store", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
		return NewRedisBackend(cfg.Redis), nil
	case "sqlite":
		log.Info("Using sqlite map store", zap.String("path", cfg.SQLitePath))
		return OpenSQLBackend(ctx, cfg.SQLitePath)
	case "memory":
		log.Info("Using memory map store")
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: redis, sqlite, memory)", cfg.Kind)
	}
}

// Connect blocks until backend answers a ping, retrying with exponential
// backoff for at most maxWait.
func Connect(ctx context.Context, backend Backend, maxWait time.Duration, log *zap.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxWait
	b.RandomizationFactor = 0.1

	return backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return backend.Ping(pingCtx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn("Map store not reachable, retrying",
			zap.Error(err),
			zap.Duration("retry_in", next),
		)
	})
}
