package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies TELEM_*
// environment overrides. A missing file is not an error so the receiver can
// run from the environment alone. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Names the standalone receiver has always honoured. A TELEM_DB path
	// implies the sqlite driver.
	if v := os.Getenv("TELEM_DB"); v != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.SQLitePath = v
	}
	setStr(&cfg.Server.URLToken, "TELEM_URL_TOKEN")
	setStr(&cfg.Server.SharedSecret, "TELEM_SECRET")

	// ── Server ──
	setInt(&cfg.Server.Port, "TELEM_SERVER_PORT")
	setStr(&cfg.Server.URLToken, "TELEM_SERVER_URL_TOKEN")
	setStr(&cfg.Server.SharedSecret, "TELEM_SERVER_SHARED_SECRET")
	setStr(&cfg.Server.APIKey, "TELEM_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TELEM_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "TELEM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "TELEM_SERVER_RATE_LIMIT_WINDOW")

	// ── Ingest ──
	setStr(&cfg.Ingest.DefaultSource, "TELEM_INGEST_DEFAULT_SOURCE")
	setBool(&cfg.Ingest.Strict, "TELEM_INGEST_STRICT")
	setInt(&cfg.Ingest.DedupCapacity, "TELEM_INGEST_DEDUP_CAPACITY")
	setInt(&cfg.Ingest.DedupEvictBatch, "TELEM_INGEST_DEDUP_EVICT_BATCH")
	setStringSlice(&cfg.Ingest.NotifyVerbs, "TELEM_INGEST_NOTIFY_VERBS")

	// ── Store ──
	setStr(&cfg.Store.Driver, "TELEM_STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "TELEM_STORE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TELEM_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TELEM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TELEM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TELEM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TELEM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TELEM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TELEM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TELEM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TELEM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TELEM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TELEM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TELEM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TELEM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TELEM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TELEM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TELEM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TELEM_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "TELEM_REDIS_STREAM_MAX_LEN")
	setStr(&cfg.Redis.KeyPrefix, "TELEM_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TELEM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TELEM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TELEM_S3_REGION")
	setStr(&cfg.S3.Bucket, "TELEM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TELEM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TELEM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TELEM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TELEM_S3_FORCE_PATH_STYLE")

	// ── Export / archive ──
	setStr(&cfg.Export.Dir, "TELEM_EXPORT_DIR")
	setStr(&cfg.Archive.Cron, "TELEM_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "TELEM_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TELEM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TELEM_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "TELEM_MODE")
	setStr(&cfg.LogLevel, "TELEM_LOG_LEVEL")
}

// Typed env helpers. Each only touches dst when the variable is set and
// parses.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
