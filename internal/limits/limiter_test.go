package limits

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg LimitConfig) *RateLimiter {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewRateLimiter(client, cfg)
}

func TestRateLimiterEnforcesParallel(t *testing.T) {
	limiter := newTestLimiter(t, LimitConfig{ParallelRequests: 1})
	ctx := context.Background()
	account := uuid.New()

	if err := limiter.Allow(ctx, account); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, account); err != ErrLimitExceeded {
		t.Fatalf("expected parallel limit error, got %v", err)
	}
	limiter.Release(ctx, account)
	if err := limiter.Allow(ctx, account); err != nil {
		t.Fatalf("request after release should pass: %v", err)
	}
}

func TestRateLimiterEnforcesRPM(t *testing.T) {
	limiter := newTestLimiter(t, LimitConfig{RequestsPerMinute: 2})
	ctx := context.Background()
	account := uuid.New()

	if err := limiter.Allow(ctx, account); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, account); err != nil {
		t.Fatalf("second request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, account); err != ErrLimitExceeded {
		t.Fatalf("expected rpm limit error, got %v", err)
	}
}

func TestRateLimiterIsolatesAccounts(t *testing.T) {
	limiter := newTestLimiter(t, LimitConfig{RequestsPerMinute: 1})
	ctx := context.Background()

	if err := limiter.Allow(ctx, uuid.New()); err != nil {
		t.Fatalf("account a: %v", err)
	}
	if err := limiter.Allow(ctx, uuid.New()); err != nil {
		t.Fatalf("account b should have its own window: %v", err)
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var limiter *RateLimiter
	if err := limiter.Allow(context.Background(), uuid.New()); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}
	limiter.Release(context.Background(), uuid.New())
}
