package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

type LimitConfig struct {
	RequestsPerMinute int
	ParallelRequests  int
}

// RateLimiter bounds per-account request throughput with Redis fixed-window
// counters and a semaphore for in-flight requests. A nil limiter or client
// allows everything.
type RateLimiter struct {
	client *redis.Client
	cfg    LimitConfig
}

func NewRateLimiter(client *redis.Client, cfg LimitConfig) *RateLimiter {
	return &RateLimiter{client: client, cfg: cfg}
}

// Allow admits one request for the account, or returns ErrLimitExceeded.
// Callers that were admitted must Release when the request finishes.
func (l *RateLimiter) Allow(ctx context.Context, accountID uuid.UUID) error {
	if l == nil || l.client == nil {
		return nil
	}

	if l.cfg.RequestsPerMinute > 0 {
		if err := l.countCheck(ctx, fmt.Sprintf("insights:rpm:%s", accountID), time.Minute, l.cfg.RequestsPerMinute); err != nil {
			return err
		}
	}
	if l.cfg.ParallelRequests > 0 {
		if err := l.semaphoreAcquire(ctx, fmt.Sprintf("insights:sem:%s", accountID), l.cfg.ParallelRequests); err != nil {
			return err
		}
	}
	return nil
}

func (l *RateLimiter) Release(ctx context.Context, accountID uuid.UUID) {
	if l == nil || l.client == nil {
		return
	}
	if l.cfg.ParallelRequests > 0 {
		l.client.Decr(ctx, fmt.Sprintf("insights:sem:%s", accountID))
	}
}

func (l *RateLimiter) countCheck(ctx context.Context, key string, ttl time.Duration, limit int) error {
	now := time.Now().UTC().Unix() / int64(ttl.Seconds())
	redisKey := fmt.Sprintf("%s:%d", key, now)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, ttl)
	}
	if int(cnt) > limit {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int) error {
	// The TTL bounds leakage when a holder dies without releasing.
	ttl := 5 * time.Minute
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, key, ttl)
	}
	if int(cnt) > max {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}
