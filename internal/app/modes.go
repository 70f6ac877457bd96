package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/telemgps/internal/pipeline"
	"github.com/alanyoungcy/telemgps/internal/server"
	"github.com/alanyoungcy/telemgps/internal/server/handler"
	"github.com/alanyoungcy/telemgps/internal/server/ws"
	"github.com/alanyoungcy/telemgps/internal/service"
	"github.com/alanyoungcy/telemgps/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// ServerMode runs the HTTP receiver. With S3 configured, archive runs are
// available on demand through POST /api/archive/trigger but not scheduled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering server mode")
	g, ctx := errgroup.WithContext(ctx)

	archiver, triggerCh := a.startArchiver(ctx, g, deps, false)
	a.startHTTPServer(ctx, g, deps, archiver, triggerCh)

	return g.Wait()
}

// ArchiveMode only runs the scheduled archive of daily export files.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering archive mode")
	if deps.Archiver == nil {
		return errors.New("archive mode: s3 is not enabled")
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps, true)
	return g.Wait()
}

// FullMode runs the receiver and the scheduled archive in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering full mode")
	g, ctx := errgroup.WithContext(ctx)

	archiver, triggerCh := a.startArchiver(ctx, g, deps, true)
	a.startHTTPServer(ctx, g, deps, archiver, triggerCh)

	return g.Wait()
}

// startArchiver starts the archive loop when S3 is wired. The loop serves
// on-demand triggers and, when scheduled is set, the configured cron. It
// returns nils when archiving is disabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, scheduled bool) (*pipeline.Archiver, chan struct{}) {
	if deps.Archiver == nil {
		a.logger.InfoContext(ctx, "archive disabled (s3.enabled = false)")
		return nil, nil
	}

	archiver := pipeline.NewArchiver(
		deps.Archiver,
		deps.LockManager,
		a.cfg.Archive.RetentionDays,
		a.logger.With(slog.String("component", "archiver")),
	)
	triggerCh := make(chan struct{}, 1)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-triggerCh:
				if _, err := archiver.Run(ctx); err != nil && ctx.Err() == nil {
					a.logger.WarnContext(ctx, "triggered archive run failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	if scheduled {
		g.Go(func() error {
			err := archiver.RunCron(ctx, a.cfg.Archive.Cron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archive cron: %w", err)
		})
	}
	return archiver, triggerCh
}

// startHTTPServer wires the ingest pipeline behind the HTTP server and adds
// the server, its shutdown and the WebSocket hub to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, archiver *pipeline.Archiver, triggerCh chan<- struct{}) {
	startedAt := time.Now().UTC()

	var alerts service.TradeNotifier
	if deps.Notifier.Enabled() {
		alerts = deps.Notifier
	}
	svc := service.NewTelemetryService(deps.Store, deps.Files, deps.SignalBus, alerts, deps.AuditStore, a.logger)

	ingestor := telemetry.NewIngestor(telemetry.IngestorConfig{
		Strict:        a.cfg.Ingest.Strict,
		SharedSecret:  a.cfg.Server.SharedSecret,
		DefaultSource: a.cfg.Ingest.DefaultSource,
	}, deps.Dedup, svc, a.logger)

	var lastRun func() *pipeline.ArchiveStatus
	var trigger chan<- struct{}
	if archiver != nil {
		lastRun = archiver.LastRun
		trigger = triggerCh
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(),
		Ingest:  handler.NewIngestHandler(ingestor, svc, a.logger),
		Metrics: handler.NewMetricsHandler(svc, a.logger),
		Export:  handler.NewExportHandler(svc, a.logger),
		Status: handler.NewStatusHandler(handler.StatusInfo{
			Mode:          a.cfg.Mode,
			DefaultSource: a.cfg.Ingest.DefaultSource,
			Strict:        a.cfg.Ingest.Strict,
			StoreDriver:   a.cfg.Store.Driver,
			StartedAt:     startedAt,
		}, deps.Dedup.Len),
		Archive: handler.NewArchiveHandler(trigger, lastRun, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		handlers.Stream = handler.NewStreamHandler(deps.SignalBus, a.logger)
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: startedAt})
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		URLToken:        a.cfg.Server.URLToken,
		APIKey:          a.cfg.Server.APIKey,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		ReadTimeout:     a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:    a.cfg.Server.WriteTimeout.Duration,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, deps.RateLimiter, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		svc.Wait()
		return err
	})
}
