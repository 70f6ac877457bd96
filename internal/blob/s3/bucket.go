package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// MinPartSize is the smallest part S3 accepts for multipart uploads.
const MinPartSize int64 = 5 << 20

// Bucket reads and writes objects in one archive bucket.
type Bucket struct {
	api  objectAPI
	name string
}

func newBucket(api objectAPI, name string) *Bucket {
	return &Bucket{api: api, name: name}
}

func (b *Bucket) Name() string { return b.name }

// Health confirms the bucket is reachable with the configured credentials.
func (b *Bucket) Health(ctx context.Context) error {
	if _, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", b.name, err)
	}
	return nil
}

// Put stores data at path in one request.
func (b *Bucket) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	in := &s3.PutObjectInput{Bucket: aws.String(b.name), Key: aws.String(path), Body: data}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := b.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data through the transfer manager. partSize is raised
// to MinPartSize when smaller.
func (b *Bucket) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	up := manager.NewUploader(b.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, MinPartSize)
	})
	if _, err := up.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
		Body:   data,
	}); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}

// Get opens the object at path; the caller closes the body. A missing object
// is domain.ErrNotFound.
func (b *Bucket) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.name), Key: aws.String(path)})
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, notFound(err))
	}
	return out.Body, nil
}

// List walks every page under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	pages := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})
	var out []domain.BlobInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, domain.BlobInfo{
				Path:         aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Exists reports whether path is stored.
func (b *Bucket) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.name), Key: aws.String(path)})
	switch err = notFound(err); {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// notFound rewrites the SDK's missing-object errors to domain.ErrNotFound.
// HeadObject reports a bare 404 and some S3-compatible providers send only
// the status code.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	var (
		noKey  *types.NoSuchKey
		absent *types.NotFound
		status interface{ HTTPStatusCode() int }
	)
	if errors.As(err, &noKey) || errors.As(err, &absent) ||
		(errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound) {
		return domain.ErrNotFound
	}
	return err
}

var (
	_ domain.BlobReader = (*Bucket)(nil)
	_ domain.BlobWriter = (*Bucket)(nil)
)
