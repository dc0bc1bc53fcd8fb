package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/roomhub/apiserver/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the bucket-scoped object store used for the event archive.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Bucket() string
}

// New builds the backend named by EVENTS_ARCHIVE and makes sure its bucket
// exists. It returns nil when archiving is disabled.
func New(ctx context.Context, cfg config.Config) (ObjectStorage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Events.Archive {
	case "", "none":
		return nil, nil
	case "minio":
		backend, err = NewMinioClient(cfg.Minio)
	case "gcs":
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported event archive %q", cfg.Events.Archive)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return backend, nil
}
