package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
)

var ErrLockNotAcquired = errors.New("booking lock not acquired")

// Locker guards a short critical section per booking key, e.g. one
// dentist-instant. It only thins out contention; the store constraints stay
// authoritative.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// BookingKey names the lock for one dentist at one start instant.
func BookingKey(dentistCode string, start time.Time) string {
	return fmt.Sprintf("dental:booking:%s:%d", dentistCode, start.Unix())
}

// compare-and-delete so an expired holder cannot drop a successor's lease
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

type leaseLocker struct {
	rdb   *redis.Client
	lease time.Duration
}

// NewRedisLocker returns a Locker holding each key for at most lease. fn runs
// under a context that ends with the lease. When Redis cannot be reached fn
// runs without a lock.
func NewRedisLocker(client *redis.Client, lease time.Duration) Locker {
	return &leaseLocker{rdb: client, lease: lease}
}

func (l *leaseLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	holder := uuid.NewString()

	acquired, err := l.rdb.SetNX(ctx, key, holder, l.lease).Result()
	switch {
	case err != nil && ctx.Err() != nil:
		return fmt.Errorf("acquire %s: %w", key, err)
	case err != nil:
		// store constraints still hold without the lock
		metrics.LockAcquisitionsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("key", key).Msg("booking lock unavailable, continuing unlocked")
		return fn(ctx)
	case !acquired:
		metrics.LockAcquisitionsTotal.WithLabelValues("busy").Inc()
		return ErrLockNotAcquired
	}
	metrics.LockAcquisitionsTotal.WithLabelValues("acquired").Inc()
	defer l.release(context.WithoutCancel(ctx), key, holder)

	leaseCtx, cancel := context.WithTimeout(ctx, l.lease)
	defer cancel()
	return fn(leaseCtx)
}

// release failures only log; the lease expires on its own.
func (l *leaseLocker) release(ctx context.Context, key, holder string) {
	err := releaseLease.Run(ctx, l.rdb, []string{key}, holder).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("key", key).Msg("release booking lock")
	}
}

// NoopLocker runs fn directly. Used when Redis is disabled or in memory mode.
type NoopLocker struct{}

func (NoopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
