package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"scopeleak/internal/platform/config"
	"scopeleak/internal/resource"
)

// New creates a go-redis client from the provided configuration and checks
// the server answers. An unreachable server is resource.ErrBackendUnavailable.
func New(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, resource.Unavailable("redis ping", err)
	}
	return client, nil
}
