package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

const csvContentType = "text/csv"

// multipartThreshold is the file size above which uploads go through the
// multipart transfer manager.
const multipartThreshold = 16 * 1024 * 1024

// ExportSource lists and opens completed daily export files.
// export.DailyWriter satisfies it.
type ExportSource interface {
	Files(before time.Time) ([]domain.ExportFile, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

// ExportArchiver implements domain.Archiver by copying daily CSV exports to
// the bucket under archive/telemetry/<kind>/<day>.csv. Objects already
// present are not re-uploaded, so a run can be repeated safely.
type ExportArchiver struct {
	source ExportSource
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewExportArchiver creates an ExportArchiver. audit may be nil.
func NewExportArchiver(
	source ExportSource,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ExportArchiver {
	return &ExportArchiver{
		source: source,
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger,
	}
}

// ArchiveExports uploads every export file for a day before `before` and
// removes the local copy of files for days before pruneBefore once the
// object exists remotely. Per-file failures are collected and the run
// continues with the remaining files.
func (a *ExportArchiver) ArchiveExports(ctx context.Context, before, pruneBefore time.Time) (domain.ArchiveResult, error) {
	var res domain.ArchiveResult

	files, err := a.source.Files(before)
	if err != nil {
		return res, fmt.Errorf("s3blob: list exports: %w", err)
	}

	pruneDay := pruneBefore.UTC().Truncate(24 * time.Hour)
	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		key := archivePath(f.Kind, f.Day)
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if exists {
			res.Skipped++
		} else {
			if err := a.upload(ctx, f, key); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Uploaded++
			a.logger.Info("export archived", "kind", f.Kind, "day", f.Day.Format(time.DateOnly), "key", key, "bytes", f.Size)
		}

		if f.Day.Before(pruneDay) {
			if err := a.source.Remove(f.Path); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Removed++
		}
	}

	runErr := errors.Join(errs...)
	a.recordRun(ctx, before, res, runErr)
	return res, runErr
}

func (a *ExportArchiver) upload(ctx context.Context, f domain.ExportFile, key string) error {
	body, err := a.source.Open(f.Path)
	if err != nil {
		return err
	}
	defer body.Close()

	if f.Size > multipartThreshold {
		return a.writer.PutMultipart(ctx, key, body, MinPartSize)
	}
	return a.writer.Put(ctx, key, body, csvContentType)
}

func (a *ExportArchiver) recordRun(ctx context.Context, before time.Time, res domain.ArchiveResult, runErr error) {
	if a.audit == nil {
		return
	}
	detail := map[string]any{
		"before":   before.UTC().Format(time.RFC3339),
		"uploaded": res.Uploaded,
		"skipped":  res.Skipped,
		"removed":  res.Removed,
	}
	if runErr != nil {
		detail["error"] = runErr.Error()
	}
	if err := a.audit.Log(ctx, "archive.exports", detail); err != nil {
		a.logger.Warn("archive audit log failed", "error", err)
	}
}

// archivePath builds the object key for one daily export:
//
//	archive/telemetry/trade/2026-03-01.csv
//	archive/telemetry/market/2026-03-01.csv
func archivePath(kind domain.Kind, day time.Time) string {
	return fmt.Sprintf("archive/telemetry/%s/%s.csv", kind, day.UTC().Format(time.DateOnly))
}

var _ domain.Archiver = (*ExportArchiver)(nil)
