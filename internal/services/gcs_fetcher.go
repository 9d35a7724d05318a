package services

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/resumeflow/internal/gcp"
	"github.com/Lllllllleong/resumeflow/internal/models"
)

// GCSFetcher resolves file references against Cloud Storage. A reference is
// either a gs:// URI or an object name in the default bucket.
type GCSFetcher struct {
	client        *storage.Client
	defaultBucket string
}

func NewGCSFetcher(client *storage.Client, defaultBucket string) *GCSFetcher {
	return &GCSFetcher{client: client, defaultBucket: defaultBucket}
}

func (f *GCSFetcher) Fetch(ctx context.Context, fileReference string) ([]byte, error) {
	bucket, object, err := gcp.ParseGCSReference(fileReference, f.defaultBucket)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNotFound, err)
	}

	data, err := gcp.ReadObject(ctx, f.client.Bucket(bucket), object)
	if err != nil {
		return nil, classifyFetchError(bucket, object, err)
	}
	return data, nil
}

func classifyFetchError(bucket, object string, err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return fmt.Errorf("gs://%s/%s: %w", bucket, object, models.ErrNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("gs://%s/%s: %w: %v", bucket, object, models.ErrFetchTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	default:
		return fmt.Errorf("gs://%s/%s: %w: %v", bucket, object, models.ErrFetchFailed, err)
	}
}
