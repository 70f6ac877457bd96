// Package pipeline schedules the background archive of daily telemetry
// exports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

const (
	archiveLockKey = "archive:exports"
	archiveLockTTL = 30 * time.Minute
)

// ArchiveStatus is the outcome of the most recent archive run.
type ArchiveStatus struct {
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration_ns"`
	Result    domain.ArchiveResult `json:"result"`
	Error     string               `json:"error,omitempty"`
}

// Archiver runs the export archive either on demand or on a cron schedule.
// When a LockManager is set, only one replica runs at a time.
type Archiver struct {
	blobArchiver  domain.Archiver
	locks         domain.LockManager
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time

	mu   sync.Mutex
	last *ArchiveStatus
}

// NewArchiver creates an Archiver. locks may be nil.
func NewArchiver(blobArchiver domain.Archiver, locks domain.LockManager, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		locks:         locks,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// Run archives every export file for a day before today (UTC) and prunes
// local files older than the retention window. It returns domain.ErrLockHeld
// when another process is archiving.
func (a *Archiver) Run(ctx context.Context) (domain.ArchiveResult, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if err != nil {
			return domain.ArchiveResult{}, err
		}
		defer unlock()
	}

	started := a.now().UTC()
	before := started.Truncate(24 * time.Hour)
	pruneBefore := before.Add(-time.Duration(a.retentionDays) * 24 * time.Hour)

	a.logger.Info("starting archive run",
		slog.Time("before", before),
		slog.Time("prune_before", pruneBefore),
		slog.Int("retention_days", a.retentionDays),
	)

	res, err := a.blobArchiver.ArchiveExports(ctx, before, pruneBefore)

	status := &ArchiveStatus{StartedAt: started, Duration: a.now().Sub(started), Result: res}
	if err != nil {
		status.Error = err.Error()
	}
	a.mu.Lock()
	a.last = status
	a.mu.Unlock()

	if err != nil {
		return res, fmt.Errorf("archiving exports before %s: %w", before.Format(time.DateOnly), err)
	}
	a.logger.Info("archive run complete",
		slog.Int("uploaded", res.Uploaded),
		slog.Int("skipped", res.Skipped),
		slog.Int("removed", res.Removed),
	)
	return res, nil
}

// LastRun returns the status of the latest run, or nil before the first.
func (a *Archiver) LastRun() *ArchiveStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return nil
	}
	s := *a.last
	return &s
}

// RunCron runs the archiver on cronExpr (UTC) until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, a.now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		wait := next.Sub(a.now())
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					a.logger.Info("archive run skipped, lock held elsewhere")
					continue
				}
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
