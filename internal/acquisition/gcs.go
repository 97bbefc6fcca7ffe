package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	fbstorage "firebase.google.com/go/v4/storage"
)

// GCSStore reads blobs through the Firebase storage client.
type GCSStore struct {
	client *fbstorage.Client
}

var _ BlobStore = (*GCSStore)(nil)

func NewGCSStore(client *fbstorage.Client) *GCSStore {
	return &GCSStore{client: client}
}

func (s *GCSStore) Open(ctx context.Context, loc Locator) (io.ReadCloser, error) {
	bucket, err := s.client.Bucket(loc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket %s: %w", loc.Bucket, err)
	}
	r, err := bucket.Object(loc.Path).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	return r, nil
}
