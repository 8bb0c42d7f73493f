package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUCTIONHOUSE_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTIONHOUSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are expected to arrive this way rather than in the file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "AUCTIONHOUSE_STORE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUCTIONHOUSE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AUCTIONHOUSE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTIONHOUSE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTIONHOUSE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTIONHOUSE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTIONHOUSE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTIONHOUSE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTIONHOUSE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTIONHOUSE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUCTIONHOUSE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AUCTIONHOUSE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AUCTIONHOUSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTIONHOUSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTIONHOUSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTIONHOUSE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTIONHOUSE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTIONHOUSE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.HighestBidTTL, "AUCTIONHOUSE_REDIS_HIGHEST_BID_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AUCTIONHOUSE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AUCTIONHOUSE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTIONHOUSE_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTIONHOUSE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUCTIONHOUSE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTIONHOUSE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTIONHOUSE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTIONHOUSE_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStr(&cfg.Ledger.MinIncrement, "AUCTIONHOUSE_LEDGER_MIN_INCREMENT")
	setInt(&cfg.Ledger.MaxRetries, "AUCTIONHOUSE_LEDGER_MAX_RETRIES")
	setDuration(&cfg.Ledger.LockWait, "AUCTIONHOUSE_LEDGER_LOCK_WAIT")
	setDuration(&cfg.Ledger.RetryBackoff, "AUCTIONHOUSE_LEDGER_RETRY_BACKOFF")
	setBool(&cfg.Ledger.DistributedLock, "AUCTIONHOUSE_LEDGER_DISTRIBUTED_LOCK")
	setDuration(&cfg.Ledger.LockTTL, "AUCTIONHOUSE_LEDGER_LOCK_TTL")
	setInt(&cfg.Ledger.BidRateLimit, "AUCTIONHOUSE_LEDGER_BID_RATE_LIMIT")
	setDuration(&cfg.Ledger.BidRateWindow, "AUCTIONHOUSE_LEDGER_BID_RATE_WINDOW")

	// ── Sweeper ──
	setDuration(&cfg.Sweeper.Interval, "AUCTIONHOUSE_SWEEPER_INTERVAL")
	setBool(&cfg.Sweeper.Archive, "AUCTIONHOUSE_SWEEPER_ARCHIVE")

	// ── Realtime ──
	setBool(&cfg.Realtime.RedisBridge, "AUCTIONHOUSE_REALTIME_REDIS_BRIDGE")
	setInt(&cfg.Realtime.SubscriberBuffer, "AUCTIONHOUSE_REALTIME_SUBSCRIBER_BUFFER")

	// ── Server ──
	setInt(&cfg.Server.Port, "AUCTIONHOUSE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTIONHOUSE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "AUCTIONHOUSE_SERVER_ADMIN_API_KEY")
	setStr(&cfg.Server.AdminAPIKeyHash, "AUCTIONHOUSE_SERVER_ADMIN_API_KEY_HASH")
	setInt(&cfg.Server.RequestsPerSecond, "AUCTIONHOUSE_SERVER_REQUESTS_PER_SECOND")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "AUCTIONHOUSE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AUCTIONHOUSE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AUCTIONHOUSE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "AUCTIONHOUSE_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "AUCTIONHOUSE_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "AUCTIONHOUSE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTIONHOUSE_MODE")
	setStr(&cfg.LogLevel, "AUCTIONHOUSE_LOG_LEVEL")
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
