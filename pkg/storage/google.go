package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
)

type GoogleCloudClient struct {
	bucket *storage.BucketHandle
}

// Long calls make big wav files, give transfers room to finish.
const gcsTimeout = 2 * time.Minute

// NewGoogleCloudClient picks up credentials from the environment the
// usual way (GOOGLE_APPLICATION_CREDENTIALS and friends).
func NewGoogleCloudClient(bucket string) (*GoogleCloudClient, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket was not specified")
	}
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, err
	}
	return &GoogleCloudClient{bucket: client.Bucket(bucket)}, nil
}

func (c *GoogleCloudClient) Save(name string, localPath string) error {
	if c == nil {
		return ErrNoStorage
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), gcsTimeout)
	defer cancel()
	w := c.bucket.Object(name).NewWriter(ctx)
	if _, err = io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (c *GoogleCloudClient) Load(name string) ([]byte, error) {
	if c == nil {
		return nil, ErrNoStorage
	}
	ctx, cancel := context.WithTimeout(context.Background(), gcsTimeout)
	defer cancel()
	r, err := c.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (*GoogleCloudClient) IsNoop() bool { return false }
