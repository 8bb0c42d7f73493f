// Package config defines the top-level configuration for the auction house
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTIONHOUSE_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
	Realtime RealtimeConfig `toml:"realtime"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps everything
	// in-process and is meant for local development.
	Driver string `toml:"driver"`
	// Identities seeds the memory driver's user directory. PostgreSQL reads
	// users from its own table and ignores this list.
	Identities []IdentitySeed `toml:"identities"`
}

// IdentitySeed is one user known to the memory driver.
type IdentitySeed struct {
	SubjectID string `toml:"subject_id"`
	Name      string `toml:"name"`
	Role      string `toml:"role"`
	Active    bool   `toml:"active"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled the hub is process-local and there is no distributed lock, bid
// rate limit or highest-bid cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// HighestBidTTL bounds how long a cached highest amount is served.
	HighestBidTTL duration `toml:"highest_bid_ttl"`
}

// S3Config holds S3-compatible object storage parameters used to archive the
// bid ledger of closed auctions.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig tunes bid acceptance.
type LedgerConfig struct {
	// MinIncrement is the smallest amount a bid must add on top of the
	// current highest (or the starting price). Kept as a decimal string.
	MinIncrement string `toml:"min_increment"`
	// MaxRetries bounds optimistic retries after a version conflict.
	MaxRetries int `toml:"max_retries"`
	// LockWait bounds how long a bid waits for its auction's lock.
	LockWait     duration `toml:"lock_wait"`
	RetryBackoff duration `toml:"retry_backoff"`
	// DistributedLock additionally takes a Redis lock per auction so several
	// processes serialize on the same key.
	DistributedLock bool     `toml:"distributed_lock"`
	LockTTL         duration `toml:"lock_ttl"`
	// BidRateLimit is the number of bids one bidder may place per
	// BidRateWindow. Zero disables the limit.
	BidRateLimit  int      `toml:"bid_rate_limit"`
	BidRateWindow duration `toml:"bid_rate_window"`
}

// MinIncrementAmount parses MinIncrement.
func (l LedgerConfig) MinIncrementAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(l.MinIncrement))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: min_increment %q: %w", l.MinIncrement, err)
	}
	return d, nil
}

// SweeperConfig tunes the expiry sweeper.
type SweeperConfig struct {
	Interval duration `toml:"interval"`
	// Archive uploads each closed auction's bids to S3 (requires s3.enabled).
	Archive bool `toml:"archive"`
}

// RealtimeConfig tunes the notification hub.
type RealtimeConfig struct {
	// RedisBridge routes events through Redis pub/sub so observers connected
	// to any process receive every event.
	RedisBridge      bool `toml:"redis_bridge"`
	SubscriberBuffer int  `toml:"subscriber_buffer"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards the administrative routes. AdminAPIKeyHash, a bcrypt
	// hash, may be used instead so the plain key never sits in config.
	AdminAPIKey     string `toml:"admin_api_key"`
	AdminAPIKeyHash string `toml:"admin_api_key_hash"`
	// RequestsPerSecond is the per-client API limit; it needs Redis.
	RequestsPerSecond int `toml:"requests_per_second"`
}

// NotifyConfig holds operator notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctionhouse",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:       false,
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			HighestBidTTL: duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "auctionhouse-archive",
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			MinIncrement:  "1000",
			MaxRetries:    5,
			LockWait:      duration{2 * time.Second},
			RetryBackoff:  duration{10 * time.Millisecond},
			LockTTL:       duration{5 * time.Second},
			BidRateLimit:  0,
			BidRateWindow: duration{time.Second},
		},
		Sweeper: SweeperConfig{
			Interval: duration{time.Minute},
		},
		Realtime: RealtimeConfig{
			SubscriberBuffer: 64,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement_issued", "auction_closed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"sweeper": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sweeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "memory":
		if c.Mode == "sweeper" {
			errs = append(errs, "store: the memory driver cannot be shared, so mode sweeper needs postgres")
		}
		for i, id := range c.Store.Identities {
			if strings.TrimSpace(id.SubjectID) == "" {
				errs = append(errs, fmt.Sprintf("store: identities[%d]: subject_id must not be empty", i))
			}
			switch id.Role {
			case "admin", "seller", "customer":
			default:
				errs = append(errs, fmt.Sprintf("store: identities[%d]: unknown role %q", i, id.Role))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	needsRedis := map[string]bool{
		"ledger.distributed_lock": c.Ledger.DistributedLock,
		"ledger.bid_rate_limit":   c.Ledger.BidRateLimit > 0,
		"realtime.redis_bridge":   c.Realtime.RedisBridge,
	}
	for _, name := range []string{"ledger.distributed_lock", "ledger.bid_rate_limit", "realtime.redis_bridge"} {
		if needsRedis[name] && !c.Redis.Enabled {
			errs = append(errs, name+" requires redis.enabled")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Sweeper.Archive && !c.S3.Enabled {
		errs = append(errs, "sweeper.archive requires s3.enabled")
	}

	// Ledger
	if inc, err := c.Ledger.MinIncrementAmount(); err != nil {
		errs = append(errs, err.Error())
	} else if !inc.Round(2).IsPositive() {
		errs = append(errs, "ledger: min_increment must be at least 0.01")
	}
	if c.Ledger.MaxRetries < 1 {
		errs = append(errs, "ledger: max_retries must be >= 1")
	}
	if c.Ledger.LockWait.Duration <= 0 {
		errs = append(errs, "ledger: lock_wait must be > 0")
	}
	if c.Ledger.DistributedLock && c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be > 0 when distributed_lock is set")
	}
	if c.Ledger.BidRateLimit < 0 {
		errs = append(errs, "ledger: bid_rate_limit must be >= 0")
	}
	if c.Ledger.BidRateLimit > 0 && c.Ledger.BidRateWindow.Duration <= 0 {
		errs = append(errs, "ledger: bid_rate_window must be > 0 when bid_rate_limit is set")
	}

	// Sweeper
	if c.Sweeper.Interval.Duration <= 0 {
		errs = append(errs, "sweeper: interval must be > 0")
	}

	// Realtime
	if c.Realtime.SubscriberBuffer < 1 {
		errs = append(errs, "realtime: subscriber_buffer must be >= 1")
	}

	// Server
	if c.Mode != "sweeper" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RequestsPerSecond > 0 && !c.Redis.Enabled {
			errs = append(errs, "server.requests_per_second requires redis.enabled")
		}
	}

	// Notify
	if c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "" {
		errs = append(errs, "notify: webhook_secret is required when webhook_url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
