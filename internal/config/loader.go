package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PARIMUTUEL_* environment variable overrides, and
// returns the final Config. A missing file is not an error, so a deployment
// can be configured from the environment alone. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARIMUTUEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "PARIMUTUEL_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PARIMUTUEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PARIMUTUEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PARIMUTUEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PARIMUTUEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PARIMUTUEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PARIMUTUEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PARIMUTUEL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PARIMUTUEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PARIMUTUEL_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PARIMUTUEL_POSTGRES_MAX_CONN_LIFETIME")
	setBool(&cfg.Postgres.RunMigrations, "PARIMUTUEL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PARIMUTUEL_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "PARIMUTUEL_REDIS_URL")
	setStr(&cfg.Redis.Addr, "PARIMUTUEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PARIMUTUEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PARIMUTUEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PARIMUTUEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PARIMUTUEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PARIMUTUEL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "PARIMUTUEL_REDIS_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "PARIMUTUEL_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PARIMUTUEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PARIMUTUEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "PARIMUTUEL_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PARIMUTUEL_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PARIMUTUEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PARIMUTUEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PARIMUTUEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PARIMUTUEL_S3_FORCE_PATH_STYLE")

	// ── Market ──
	setInt(&cfg.Market.MinQuestionLen, "PARIMUTUEL_MARKET_MIN_QUESTION_LEN")
	setInt(&cfg.Market.MaxQuestionLen, "PARIMUTUEL_MARKET_MAX_QUESTION_LEN")
	setUint64(&cfg.Market.MinBet, "PARIMUTUEL_MARKET_MIN_BET")
	setUint64(&cfg.Market.MaxBet, "PARIMUTUEL_MARKET_MAX_BET")
	setUint64(&cfg.Market.FeeBps, "PARIMUTUEL_MARKET_FEE_BPS")
	setBool(&cfg.Market.AllowEarlyResolution, "PARIMUTUEL_MARKET_ALLOW_EARLY_RESOLUTION")

	// ── Server ──
	setInt(&cfg.Server.Port, "PARIMUTUEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PARIMUTUEL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "PARIMUTUEL_SERVER_ADMIN_API_KEY")
	setDuration(&cfg.Server.SignatureWindow, "PARIMUTUEL_SERVER_SIGNATURE_WINDOW")
	setInt(&cfg.Server.RateLimit, "PARIMUTUEL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PARIMUTUEL_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PARIMUTUEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PARIMUTUEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PARIMUTUEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PARIMUTUEL_NOTIFY_EVENTS")
	setInt32(&cfg.Notify.AmountDecimals, "PARIMUTUEL_NOTIFY_AMOUNT_DECIMALS")
	setStr(&cfg.Notify.AmountSymbol, "PARIMUTUEL_NOTIFY_AMOUNT_SYMBOL")

	// ── Lifecycle ──
	setBool(&cfg.Lifecycle.SweepEnabled, "PARIMUTUEL_LIFECYCLE_SWEEP_ENABLED")
	setDuration(&cfg.Lifecycle.SweepInterval, "PARIMUTUEL_LIFECYCLE_SWEEP_INTERVAL")
	setInt(&cfg.Lifecycle.SweepBatch, "PARIMUTUEL_LIFECYCLE_SWEEP_BATCH")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PARIMUTUEL_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "PARIMUTUEL_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "PARIMUTUEL_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PARIMUTUEL_MODE")
	setStr(&cfg.LogLevel, "PARIMUTUEL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
