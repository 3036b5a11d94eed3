package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle   bool
	MaxExchangesPerIP  int
	ExchangeWindow     time.Duration
	MaxFailedExchanges int
	FailureCooldown    time.Duration
}

// Limiter enforces per-IP exchange limits using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckExchange counts an exchange request from ip and fails once either the request
// window or the failure cooldown for ip is exceeded. Requests without an IP are not
// throttled.
func (l *Limiter) CheckExchange(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}

	if err := l.checkCounter(ctx, failureKey(ip), l.config.MaxFailedExchanges); err != nil {
		return err
	}

	count, err := l.incrementWithTTL(ctx, requestKey(ip), l.config.ExchangeWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxExchangesPerIP) {
		return ErrRateLimited
	}

	return nil
}

// IncrementFailure records a rejected exchange from ip.
func (l *Limiter) IncrementFailure(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, failureKey(ip), l.config.FailureCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxFailedExchanges) {
		return ErrRateLimited
	}

	return nil
}

// ResetFailures clears the failure counter for ip after a successful exchange.
func (l *Limiter) ResetFailures(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}

	if err := l.redis.Del(ctx, failureKey(ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Failures returns the current failure counter for ip.
func (l *Limiter) Failures(ctx context.Context, ip string) (int, error) {
	count, err := l.redis.Get(ctx, failureKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count > int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func requestKey(ip string) string {
	return "xr:" + ip
}

func failureKey(ip string) string {
	return "xf:" + ip
}
