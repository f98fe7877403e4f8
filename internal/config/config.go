package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the insights service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Insights      InsightsConfig      `mapstructure:"insights"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Quota         QuotaConfig         `mapstructure:"quota"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Reporting     ReportingConfig     `mapstructure:"reporting"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
}

// InsightsConfig controls the AI-assisted analysis pipeline.
type InsightsConfig struct {
	OpenAIKey       string        `mapstructure:"openai_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	ModelTimeout    time.Duration `mapstructure:"model_timeout"`
	MaxQuestionLen  int           `mapstructure:"max_question_len"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
}

type BillingConfig struct {
	// TokenMultiplier is the markup applied to raw model tokens when
	// computing the chargeable amount.
	TokenMultiplier float64 `mapstructure:"token_multiplier"`
}

// QuotaConfig is the single authoritative package-to-allowance table.
// A limit of -1 means unlimited.
type QuotaConfig struct {
	StarterTokens  int64 `mapstructure:"starter_tokens"`
	StandardTokens int64 `mapstructure:"standard_tokens"`
	PremiumTokens  int64 `mapstructure:"premium_tokens"`
	CustomTokens   int64 `mapstructure:"custom_tokens"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	ParallelRequests  int `mapstructure:"parallel_requests"`
}

type ReportingConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("FORMSIGHT_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("formsight")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("FORMSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills safe fallbacks.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "FORMSIGHT_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "FORMSIGHT_REDIS_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "FORMSIGHT_AUTH_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("auth.access_ttl must be > 0")
	}

	if c.Database.RunMigrations && c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir must be provided when run_migrations is true")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	if c.Insights.Model == "" {
		return fmt.Errorf("insights.model must be provided")
	}
	if c.Insights.MaxOutputTokens <= 0 {
		return fmt.Errorf("insights.max_output_tokens must be > 0")
	}
	if c.Insights.ModelTimeout <= 0 {
		return fmt.Errorf("insights.model_timeout must be > 0")
	}
	if c.Insights.MaxQuestionLen <= 0 {
		return fmt.Errorf("insights.max_question_len must be > 0")
	}
	if c.Insights.IdempotencyTTL <= 0 {
		c.Insights.IdempotencyTTL = 30 * time.Minute
	}

	if c.Billing.TokenMultiplier <= 0 {
		return fmt.Errorf("billing.token_multiplier must be > 0")
	}

	if c.Quota.StarterTokens == 0 || c.Quota.StandardTokens == 0 || c.Quota.PremiumTokens == 0 {
		return fmt.Errorf("quota package allowances must be non-zero (-1 for unlimited)")
	}

	if c.RateLimits.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limits.requests_per_minute must be >= 0")
	}
	if c.RateLimits.ParallelRequests < 0 {
		return fmt.Errorf("rate_limits.parallel_requests must be >= 0")
	}

	reportingTZ := strings.TrimSpace(c.Reporting.Timezone)
	if reportingTZ == "" {
		reportingTZ = "UTC"
	}
	if _, err := time.LoadLocation(reportingTZ); err != nil {
		return fmt.Errorf("invalid reporting.timezone: %w", err)
	}
	c.Reporting.Timezone = reportingTZ

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 2)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "./migrations")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("auth.issuer", "formsight")
	v.SetDefault("auth.access_ttl", "1h")

	v.SetDefault("insights.model", "gpt-4o-mini")
	v.SetDefault("insights.max_output_tokens", 800)
	v.SetDefault("insights.model_timeout", "45s")
	v.SetDefault("insights.max_question_len", 2000)
	v.SetDefault("insights.idempotency_ttl", "30m")

	v.SetDefault("billing.token_multiplier", 1.5)

	v.SetDefault("quota.starter_tokens", 10_000)
	v.SetDefault("quota.standard_tokens", 30_000)
	v.SetDefault("quota.premium_tokens", 100_000)
	v.SetDefault("quota.custom_tokens", -1)

	v.SetDefault("rate_limits.requests_per_minute", 60)
	v.SetDefault("rate_limits.parallel_requests", 4)

	v.SetDefault("reporting.timezone", "UTC")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
