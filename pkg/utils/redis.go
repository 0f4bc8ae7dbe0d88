package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the shared call cache client. Zero values take
// conservative defaults.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	PoolSize int
	// Timeout bounds dial, read and write; cache calls sit on the webhook path.
	Timeout time.Duration
}

func (o RedisOptions) orDefaults() RedisOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = 20
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

// OpenRedis builds a client and fails unless a PING succeeds.
func OpenRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	opts = opts.orDefaults()
	if opts.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        opts.PoolSize,
		DialTimeout:     opts.Timeout,
		ReadTimeout:     opts.Timeout,
		WriteTimeout:    opts.Timeout,
		PoolTimeout:     2 * opts.Timeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisKey joins non-empty parts with ':' (e.g. "ivr", "call", "CA123").
func RedisKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}
