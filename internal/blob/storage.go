package blob

import (
	"context"
	"time"
)

// Storage is the subset of *Broker that callers outside this package depend
// on, extracted for the same reason as record.Gateway: it lets handler/api
// collaborators be exercised against a mock.Mock double instead of a live
// R2/S3 endpoint.
type Storage interface {
	MintUpload(ctx context.Context, fileName, contentType string, size *int64) (*UploadTicket, error)
	GetDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	FetchToFile(ctx context.Context, key, path string) error
}

var _ Storage = (*Broker)(nil)
