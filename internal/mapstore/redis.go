package mapstore

import (
	"context"
	"errors"
	"time"

	"github.com/gomodule/redigo/redis"
)

type RedisOptions struct {
	Addr        string
	DB          int
	Password    string
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
}

// RedisBackend keeps map configurations in Redis. The connection pool is
// shared by every request.
type RedisBackend struct {
	pool *redis.Pool
}

func NewRedisBackend(opts RedisOptions) *RedisBackend {
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = 8
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 240 * time.Second
	}
	return &RedisBackend{
		pool: &redis.Pool{
			MaxIdle:     opts.MaxIdle,
			MaxActive:   opts.MaxActive,
			IdleTimeout: opts.IdleTimeout,
			Wait:        opts.MaxActive > 0,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", opts.Addr,
					redis.DialDatabase(opts.DB),
					redis.DialPassword(opts.Password),
				)
			},
		},
	}
}

func (b *RedisBackend) do(ctx context.Context, cmd string, args ...any) (any, error) {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return redis.DoContext(conn, ctx, cmd, args...)
}

func (b *RedisBackend) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	_, err := redis.String(b.do(ctx, "SET", key, val, "NX", "PX", ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := redis.Bytes(b.do(ctx, "GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrMissing
	}
	return data, err
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := b.do(ctx, "PEXPIRE", key, ttl.Milliseconds())
	return err
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	_, err := b.do(ctx, "DEL", key)
	return err
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	_, err := b.do(ctx, "PING")
	return err
}

func (b *RedisBackend) Close() error {
	return b.pool.Close()
}
