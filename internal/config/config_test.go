package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{URL: "postgres://localhost/formsight"},
		Redis:    RedisConfig{URL: "redis://localhost:6379"},
		Auth:     AuthConfig{JWTSecret: "secret", AccessTTL: time.Hour},
		Insights: InsightsConfig{
			Model:           "gpt-4o-mini",
			MaxOutputTokens: 800,
			ModelTimeout:    45 * time.Second,
			MaxQuestionLen:  2000,
			IdempotencyTTL:  30 * time.Minute,
		},
		Billing: BillingConfig{TokenMultiplier: 1.5},
		Quota: QuotaConfig{
			StarterTokens:  10_000,
			StandardTokens: 30_000,
			PremiumTokens:  100_000,
			CustomTokens:   -1,
		},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Reporting.Timezone != "UTC" {
		t.Fatalf("timezone default = %q, want UTC", cfg.Reporting.Timezone)
	}
}

func TestValidateReportsAllMissingKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""
	cfg.Auth.JWTSecret = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error for missing keys")
	}
	for _, key := range []string{"FORMSIGHT_DATABASE_URL", "FORMSIGHT_AUTH_JWT_SECRET"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q should name %s", err, key)
		}
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Reporting.Timezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid timezone error")
	}
}

func TestValidateRejectsZeroQuota(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.StandardTokens = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected quota allowance error")
	}
}

func TestValidateRejectsNonPositiveMultiplier(t *testing.T) {
	cfg := validConfig()
	cfg.Billing.TokenMultiplier = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected multiplier error")
	}
}
