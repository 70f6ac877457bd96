// Package config defines the telemetry receiver configuration and its
// validation rules.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/telemgps/internal/pipeline"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by TELEM_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Server   ServerConfig   `toml:"server"`
	Ingest   IngestConfig   `toml:"ingest"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Export   ExportConfig   `toml:"export"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port int `toml:"port"`
	// URLToken must be passed as ?token= on POST /telem.
	URLToken string `toml:"url_token"`
	// SharedSecret, when set, must appear as the sec field in every message.
	SharedSecret string `toml:"shared_secret"`
	// APIKey protects the read and admin routes. Empty disables the check.
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
}

// IngestConfig controls parsing and dedup.
type IngestConfig struct {
	DefaultSource   string   `toml:"default_source"`
	Strict          bool     `toml:"strict"`
	DedupCapacity   int      `toml:"dedup_capacity"`
	DedupEvictBatch int      `toml:"dedup_evict_batch"`
	NotifyVerbs     []string `toml:"notify_verbs"`
}

// StoreConfig selects the relational backend.
type StoreConfig struct {
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
	// KeyPrefix namespaces every key and channel so receivers can share a
	// Redis instance.
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
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

// ExportConfig locates the daily CSV files.
type ExportConfig struct {
	Dir string `toml:"dir"`
}

// ArchiveConfig schedules the upload of daily files to S3.
type ArchiveConfig struct {
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// duration lets TOML carry strings such as "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs a single-node receiver on SQLite with
// no Redis or S3.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			URLToken:        "set-a-long-random-token",
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{30 * time.Second},
		},
		Ingest: IngestConfig{
			DefaultSource:   "tradingview",
			DedupCapacity:   2000,
			DedupEvictBatch: 500,
			NotifyVerbs:     []string{"EL", "ES", "XL", "XS", "XA"},
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "telem.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "telemetry",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
			KeyPrefix:    "telemgps:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "telemetry-archive",
			ForcePathStyle: true,
		},
		Export: ExportConfig{
			Dir: "exports",
		},
		Archive: ArchiveConfig{
			Cron:          "15 0 * * *",
			RetentionDays: 30,
		},
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
}

// Validate checks c and returns one error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if mode != "archive" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if strings.TrimSpace(c.Server.URLToken) == "" {
			errs = append(errs, "server: url_token must not be empty")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	// Ingest
	if c.Ingest.DedupCapacity < 1 {
		errs = append(errs, "ingest: dedup_capacity must be >= 1")
	}
	if c.Ingest.DedupEvictBatch < 1 || c.Ingest.DedupEvictBatch > c.Ingest.DedupCapacity {
		errs = append(errs, "ingest: dedup_evict_batch must be between 1 and dedup_capacity")
	}

	// Store
	switch driver := strings.ToLower(c.Store.Driver); {
	case !validDrivers[driver]:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite)", c.Store.Driver))
	case driver == "sqlite" && c.Store.SQLitePath == "":
		errs = append(errs, "store: sqlite_path must not be empty")
	case driver == "postgres":
		errs = append(errs, c.Postgres.validate()...)
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

	// S3 and archive
	if mode == "archive" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for mode archive")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
		if err := pipeline.ValidateCron(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron %q: %v", c.Archive.Cron, err))
		}
	}

	if c.Export.Dir == "" {
		errs = append(errs, "export: dir must not be empty")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
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
	if p.PoolMinConns < 0 || p.PoolMinConns > p.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}
	return errs
}
