// Package config defines the configuration of the parimutuel service and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PARIMUTUEL_* environment variables.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Market    MarketConfig    `toml:"market"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Archive   ArchiveConfig   `toml:"archive"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StorageConfig selects the backing store for markets, bets and balances.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `toml:"driver"`
}

// PostgresConfig holds database connection parameters. DSN, when set, wins
// over the individual fields.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: when
// disabled the service falls back to in-process locks, bus and limiter.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	URL        string   `toml:"url"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Prefix     string   `toml:"prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds settings for the settlement report bucket.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketConfig holds the betting and settlement policy.
type MarketConfig struct {
	MinQuestionLen int    `toml:"min_question_len"`
	MaxQuestionLen int    `toml:"max_question_len"`
	MinBet         uint64 `toml:"min_bet"`
	MaxBet         uint64 `toml:"max_bet"`
	// FeeBps is taken from the losing pool at resolution; 0 disables it.
	FeeBps               uint64 `toml:"fee_bps"`
	AllowEarlyResolution bool   `toml:"allow_early_resolution"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards the deposit endpoint. Empty disables admin routes.
	AdminAPIKey     string   `toml:"admin_api_key"`
	SignatureWindow duration `toml:"signature_window"`
	// RateLimit is the number of requests per RateWindow per caller; 0
	// disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials and formatting.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// AmountDecimals is the number of decimals between base units and the
	// display unit, e.g. 9 for lamport-like units.
	AmountDecimals int32  `toml:"amount_decimals"`
	AmountSymbol   string `toml:"amount_symbol"`
}

// LifecycleConfig controls the sweeper that closes expired markets.
type LifecycleConfig struct {
	SweepEnabled  bool     `toml:"sweep_enabled"`
	SweepInterval duration `toml:"sweep_interval"`
	SweepBatch    int      `toml:"sweep_batch"`
}

// ArchiveConfig controls the export of settled markets to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// Retention returns the archive retention window.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Driver: "memory",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "parimutuel",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "parimutuel:",
			CacheTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "parimutuel-settlements",
			ForcePathStyle: true,
		},
		Market: MarketConfig{
			MinQuestionLen: 20,
			MaxQuestionLen: 400,
			MinBet:         1,
			MaxBet:         10_000_000_000,
			FeeBps:         2000,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureWindow: duration{5 * time.Minute},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:         []string{"market_created", "market_resolved", "betting_closed"},
			AmountDecimals: 9,
			AmountSymbol:   "SOL",
		},
		Lifecycle: LifecycleConfig{
			SweepEnabled:  true,
			SweepInterval: duration{30 * time.Second},
			SweepBatch:    100,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvents = map[string]bool{
	"market_created":   true,
	"bet_placed":       true,
	"betting_closed":   true,
	"market_resolved":  true,
	"winnings_claimed": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
		if c.Mode == "worker" {
			errs = append(errs, "storage: worker mode needs a shared store, use driver postgres")
		}
	case "postgres":
		errs = append(errs, c.Postgres.validate()...)
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: memory, postgres)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: url or addr must be set when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.CacheTTL.Duration < 0 {
			errs = append(errs, "redis: cache_ttl must not be negative")
		}
	}

	// Market
	if c.Market.MinQuestionLen < 1 {
		errs = append(errs, "market: min_question_len must be >= 1")
	}
	if c.Market.MaxQuestionLen < c.Market.MinQuestionLen {
		errs = append(errs, "market: max_question_len must not be below min_question_len")
	}
	if c.Market.MinBet < 1 {
		errs = append(errs, "market: min_bet must be >= 1")
	}
	if c.Market.MaxBet < c.Market.MinBet {
		errs = append(errs, "market: max_bet must not be below min_bet")
	}
	if c.Market.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("market: fee_bps must be 0-10000, got %d", c.Market.FeeBps))
	}

	// Server
	if c.Mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SignatureWindow.Duration <= 0 {
			errs = append(errs, "server: signature_window must be > 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !validEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}
	if c.Notify.AmountDecimals < 0 || c.Notify.AmountDecimals > 18 {
		errs = append(errs, "notify: amount_decimals must be 0-18")
	}

	// Lifecycle
	if c.Lifecycle.SweepEnabled {
		if c.Lifecycle.SweepInterval.Duration <= 0 {
			errs = append(errs, "lifecycle: sweep_interval must be > 0")
		}
		if c.Lifecycle.SweepBatch < 1 {
			errs = append(errs, "lifecycle: sweep_batch must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (p PostgresConfig) validate() []string {
	var errs []string
	if strings.TrimSpace(p.DSN) == "" {
		if p.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", p.Port))
		}
		if p.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if p.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if p.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if p.PoolMinConns > p.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}
	return errs
}
