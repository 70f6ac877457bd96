package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ExportFile is one completed daily flat-file export.
type ExportFile struct {
	Kind Kind
	Day  time.Time
	Path string
	Size int64
}

// ArchiveResult summarises one archive run.
type ArchiveResult struct {
	Uploaded int `json:"uploaded"`
	Skipped  int `json:"skipped"`
	Removed  int `json:"removed"`
}

// Archiver moves completed daily exports to cold storage. Files for days
// before `before` are uploaded; local copies for days before `pruneBefore` are
// removed once present remotely.
type Archiver interface {
	ArchiveExports(ctx context.Context, before, pruneBefore time.Time) (ArchiveResult, error)
}
