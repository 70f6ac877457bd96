package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// fakeAPI answers the calls Bucket makes; anything else panics on the nil
// embedded interface.
type fakeAPI struct {
	objectAPI
	objects map[string]string
	headErr error
	pages   [][]string
	put     *s3.PutObjectInput
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := 0
	if in.ContinuationToken != nil {
		fmt.Sscan(*in.ContinuationToken, &page)
	}
	out := &s3.ListObjectsV2Output{}
	for _, key := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(3)})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprint(page + 1))
	}
	return out, nil
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestNotFound(t *testing.T) {
	assert.NoError(t, notFound(nil))
	assert.ErrorIs(t, notFound(&types.NoSuchKey{}), domain.ErrNotFound)
	assert.ErrorIs(t, notFound(fmt.Errorf("wrapped: %w", &types.NotFound{})), domain.ErrNotFound)
	assert.ErrorIs(t, notFound(statusErr(404)), domain.ErrNotFound)

	other := statusErr(403)
	assert.Equal(t, error(other), notFound(other))
}

func TestBucketExistsAndGet(t *testing.T) {
	api := &fakeAPI{objects: map[string]string{"trades/2026-03-01.csv": "a,b"}}
	b := newBucket(api, "cold")
	ctx := context.Background()

	ok, err := b.Exists(ctx, "trades/2026-03-01.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Exists(ctx, "trades/2026-03-02.csv")
	require.NoError(t, err)
	assert.False(t, ok)

	rc, err := b.Get(ctx, "trades/2026-03-01.csv")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "a,b", string(body))

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	api.headErr = errors.New("denied")
	_, err = b.Exists(ctx, "trades/2026-03-01.csv")
	assert.ErrorContains(t, err, "denied")
}

func TestBucketListFollowsPages(t *testing.T) {
	api := &fakeAPI{pages: [][]string{{"a", "b"}, {"c"}}}
	infos, err := newBucket(api, "cold").List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "c", infos[2].Path)
	assert.Equal(t, int64(3), infos[0].Size)
	assert.True(t, infos[0].LastModified.Equal(time.Time{}))
}

func TestBucketPut(t *testing.T) {
	api := &fakeAPI{}
	b := newBucket(api, "cold")
	require.NoError(t, b.Put(context.Background(), "k", strings.NewReader("x"), "text/csv"))
	assert.Equal(t, "cold", aws.ToString(api.put.Bucket))
	assert.Equal(t, "text/csv", aws.ToString(api.put.ContentType))

	require.NoError(t, b.Put(context.Background(), "k", strings.NewReader("x"), ""))
	assert.Nil(t, api.put.ContentType)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.Equal(t, "https://minio:9000", endpointURL("minio:9000", true))
	assert.Equal(t, "http://x:1", endpointURL("http://x:1", true))
}
