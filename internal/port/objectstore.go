package port

import (
	"context"
	"time"
)

// ObjectStore is durable blob storage for source documents and rendered
// pages.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
	SignedURL(path string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
