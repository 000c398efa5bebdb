package blob

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// SignedURL is a pre-authorized URL for a single object operation.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store abstracts the object storage backing receipt images and export
// artifacts.
type Store interface {
	// SignUpload returns a pre-authorized URL the client uploads the object to.
	SignUpload(ctx context.Context, key string) (*SignedURL, error)
	// SignDownload returns a pre-authorized URL for reading the object.
	SignDownload(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error)
	// Upload writes the object directly.
	Upload(ctx context.Context, key, contentType string, data []byte) error
	// Download reads the object. Returns ErrObjectNotFound if it does not exist.
	Download(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether the object exists.
	Exists(ctx context.Context, key string) (bool, error)
}
