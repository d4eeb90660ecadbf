package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object in the settlement archive.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads archive objects. Put is the single-request path for the
// ledger files; PutMultipart streams payloads that outgrow it in parts of
// partSize bytes.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// BlobReader reads the archive back: the archiver verifies uploads with
// Exists, and the archive API serves settlement reports through Get and
// List. Presign hands out time-limited download URLs so large ledger files
// are fetched from the store directly instead of streaming through the API.
type BlobReader interface {
	// Get streams one object; a missing object reports ErrNotFound.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
	Presign(ctx context.Context, path string, expiry time.Duration) (string, error)
}

// Archiver moves a settled auction's ledger to cold storage and returns the
// keys it wrote.
type Archiver interface {
	ArchiveAuction(ctx context.Context, auctionID string) (paths []string, err error)
}
