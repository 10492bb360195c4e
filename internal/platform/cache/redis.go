package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tunes the Redis client. Zero values keep go-redis defaults.
type Options struct {
	Addr        string
	PoolSize    int
	DialTimeout time.Duration
	// PingTimeout bounds the startup connectivity check.
	PingTimeout time.Duration
}

// New creates a Redis client and verifies it answers PING.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("platform/cache: redis address must be provided")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}

	return client, nil
}
