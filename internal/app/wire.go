package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/telemgps/internal/blob/s3"
	"github.com/alanyoungcy/telemgps/internal/cache/redis"
	"github.com/alanyoungcy/telemgps/internal/config"
	"github.com/alanyoungcy/telemgps/internal/domain"
	"github.com/alanyoungcy/telemgps/internal/export"
	"github.com/alanyoungcy/telemgps/internal/notify"
	"github.com/alanyoungcy/telemgps/internal/store/postgres"
	"github.com/alanyoungcy/telemgps/internal/store/sqlite"
	"github.com/alanyoungcy/telemgps/internal/telemetry"
)

// Dependencies bundles what the modes need. Optional parts are nil when
// their backend is disabled.
type Dependencies struct {
	Store      domain.TelemetryStore
	AuditStore domain.AuditStore
	Files      *export.DailyWriter
	Dedup      *telemetry.Dedup

	// Redis, optional
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// S3, optional
	Archiver domain.Archiver

	Notifier *notify.Notifier
}

// Wire builds every dependency from cfg and returns a cleanup function that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{}

	// --- Relational store ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Store = postgres.NewTelemetryStore(pgClient.Pool())
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Store = db
		deps.AuditStore = db

	default:
		return fail("store", fmt.Errorf("unknown driver %q", cfg.Store.Driver))
	}

	// --- Daily flat files ---
	files, err := export.NewDailyWriter(cfg.Export.Dir)
	if err != nil {
		return fail("export", err)
	}
	deps.Files = files

	deps.Dedup = telemetry.NewDedup(cfg.Ingest.DedupCapacity, cfg.Ingest.DedupEvictBatch)

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		maxLen := cfg.Redis.StreamMaxLen
		if maxLen <= 0 {
			maxLen = redis.DefaultStreamMaxLen
		}
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, maxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := bucket.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable; archive runs will retry",
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewExportArchiver(
			files,
			bucket,
			bucket,
			deps.AuditStore,
			logger.With(slog.String("component", "s3_archiver")),
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Ingest.NotifyVerbs, logger)

	return deps, cleanup, nil
}
