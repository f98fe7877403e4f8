package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/formsight/formsight/internal/aggregate"
	"github.com/formsight/formsight/internal/ai"
	"github.com/formsight/formsight/internal/auth"
	"github.com/formsight/formsight/internal/billing"
	"github.com/formsight/formsight/internal/cache"
	"github.com/formsight/formsight/internal/config"
	"github.com/formsight/formsight/internal/insights"
	"github.com/formsight/formsight/internal/limits"
	"github.com/formsight/formsight/internal/observability"
	"github.com/formsight/formsight/internal/period"
	"github.com/formsight/formsight/internal/quota"
	"github.com/formsight/formsight/internal/store"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config            *config.Config
	Logger            *slog.Logger
	DBPool            *pgxpool.Pool
	Redis             *redis.Client
	Tokens            *auth.TokenManager
	Insights          *insights.Service
	Accounts          *store.AccountStore
	RateLimiter       *limits.RateLimiter
	Answers           *cache.AnswerCache
	Observability     *observability.Provider
	ReportingLocation *time.Location
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	locName := strings.TrimSpace(cfg.Reporting.Timezone)
	if locName == "" {
		locName = "UTC"
	}
	reportingLoc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("load reporting timezone: %w", err)
	}

	accountStore := store.NewAccountStore(pool)
	submissionStore := store.NewSubmissionStore(pool)
	formStore := store.NewFormStore(pool)
	userStore := store.NewUserStore(pool)
	conversationStore := store.NewConversationStore(pool)
	usageStore := store.NewUsageLogStore(pool)

	tokenManager, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	var model ai.ModelClient
	if strings.TrimSpace(cfg.Insights.OpenAIKey) == "" {
		logger.Warn("no model api key configured, all answers will use the fallback summary")
		model = ai.Disabled{}
	} else {
		client, err := ai.NewClient(ai.Options{
			APIKey:  cfg.Insights.OpenAIKey,
			BaseURL: cfg.Insights.BaseURL,
			Model:   cfg.Insights.Model,
			Timeout: cfg.Insights.ModelTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init model client: %w", err)
		}
		model = client
	}

	ledger := quota.NewLedger(quota.NewClock(quota.LimitsFromConfig(cfg.Quota)), accountStore)
	aggregator := aggregate.NewAggregator(submissionStore, formStore, userStore, reportingLoc)

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	insightsSvc := insights.NewService(insights.ServiceOptions{
		Resolver:       period.NewResolver(reportingLoc),
		Aggregator:     aggregator,
		Converter:      billing.NewConverter(cfg.Billing.TokenMultiplier),
		Ledger:         ledger,
		Conversations:  conversationStore,
		Usage:          usageStore,
		Model:          model,
		ModelName:      cfg.Insights.Model,
		Metrics:        obs,
		Logger:         logger,
		MaxQuestionLen: cfg.Insights.MaxQuestionLen,
		MaxOutput:      cfg.Insights.MaxOutputTokens,
	})

	limiter := limits.NewRateLimiter(redisClient, limits.LimitConfig{
		RequestsPerMinute: cfg.RateLimits.RequestsPerMinute,
		ParallelRequests:  cfg.RateLimits.ParallelRequests,
	})

	return &Container{
		Config:            cfg,
		Logger:            logger,
		DBPool:            pool,
		Redis:             redisClient,
		Tokens:            tokenManager,
		Insights:          insightsSvc,
		Accounts:          accountStore,
		RateLimiter:       limiter,
		Answers:           cache.NewAnswerCache(redisClient, cfg.Insights.IdempotencyTTL),
		Observability:     obs,
		ReportingLocation: reportingLoc,
	}, nil
}

// Close releases container-held resources.
func (c *Container) Close(ctx context.Context) {
	if c == nil {
		return
	}
	if c.Observability != nil {
		if err := c.Observability.Shutdown(ctx); err != nil {
			c.Logger.Warn("observability shutdown failed", slog.String("error", err.Error()))
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
}
