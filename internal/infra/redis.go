package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = time.Second

// NewRedisClient builds the cache client backing idempotency keys and login
// throttling. An empty url yields a nil client and both guards switch off.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// Short timeouts keep a slow cache from stalling fund mutations.
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = redisOpTimeout
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = redisOpTimeout
	}
	opt.ClientName = "school-funds"

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}

	return client, nil
}
