// Package config loads engine configuration from config.yaml, .env and the
// environment, and initializes the global logger.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Daily        DailyConfig        `yaml:"daily" mapstructure:"daily"`
	Leaderboard  LeaderboardConfig  `yaml:"leaderboard" mapstructure:"leaderboard"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RateLimitRPS       float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// VerificationConfig tunes consensus and settlement.
type VerificationConfig struct {
	Threshold            int   `yaml:"threshold" mapstructure:"threshold"`
	AccurateTrustDelta   int   `yaml:"accurate_trust_delta" mapstructure:"accurate_trust_delta"`
	InaccurateTrustDelta int   `yaml:"inaccurate_trust_delta" mapstructure:"inaccurate_trust_delta"`
	AuthorRewardTrue     int64 `yaml:"author_reward_true" mapstructure:"author_reward_true"`
	AuthorRewardPartial  int64 `yaml:"author_reward_partial" mapstructure:"author_reward_partial"`
}

// DailyConfig tunes the daily login bonus.
type DailyConfig struct {
	BaseAward int64 `yaml:"base_award" mapstructure:"base_award"`
}

// LeaderboardConfig tunes leaderboard caching and paging.
type LeaderboardConfig struct {
	CacheTTLSecs        int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CacheEntries        int `yaml:"cache_entries" mapstructure:"cache_entries"`
	RefreshIntervalSecs int `yaml:"refresh_interval_secs" mapstructure:"refresh_interval_secs"`
	DefaultLimit        int `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit            int `yaml:"max_limit" mapstructure:"max_limit"`
}

// RetryConfig configures transaction retries on transient storage errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Load reads configuration from file and environment. Variables in a .env
// file in the working directory are exported first; real environment
// variables take precedence over them.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VIURL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 10)
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("verification.threshold", 10)
	v.SetDefault("verification.accurate_trust_delta", 2)
	v.SetDefault("verification.inaccurate_trust_delta", -1)
	v.SetDefault("verification.author_reward_true", 10)
	v.SetDefault("verification.author_reward_partial", 3)
	v.SetDefault("daily.base_award", 5)
	v.SetDefault("leaderboard.cache_ttl_secs", 30)
	v.SetDefault("leaderboard.cache_entries", 64)
	v.SetDefault("leaderboard.refresh_interval_secs", 0)
	v.SetDefault("leaderboard.default_limit", 10)
	v.SetDefault("leaderboard.max_limit", 100)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_backoff_ms", 50)
	v.SetDefault("retry.max_backoff_ms", 500)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a run mode needs. mode is "serve" for the
// HTTP server or "cli" for one-shot commands.
func (c *Config) Validate(mode string) error {
	if mode != "serve" && mode != "cli" {
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	if c.Verification.Threshold < 1 {
		problems = append(problems, "verification.threshold must be at least 1")
	}
	if c.Daily.BaseAward < 1 {
		problems = append(problems, "daily.base_award must be positive")
	}
	if c.Leaderboard.MaxLimit < 1 || c.Leaderboard.DefaultLimit < 1 || c.Leaderboard.DefaultLimit > c.Leaderboard.MaxLimit {
		problems = append(problems, "leaderboard limits must satisfy 1 <= default_limit <= max_limit")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port must be > 0 and <= 65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 {
			problems = append(problems, "server.rate_limit_rps must not be negative")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
