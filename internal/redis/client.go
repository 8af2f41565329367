package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Addr     string
	Username string
	Password string
	// OpTimeout bounds each read and write. Booking locks must fail fast
	// rather than hold up a request.
	OpTimeout time.Duration
}

// NewRedisClient connects and pings. Callers treat an error as "run
// without Redis" rather than fatal.
func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	timeout := opts.OpTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	log.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return rdb, nil
}
