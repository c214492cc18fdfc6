package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object, such as a month of audit events.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores archive files. PutMultipart is used for files large
// enough to need a chunked upload.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader serves archive files back to the API. Get returns ErrNotFound
// for a missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies audit entries older than before into cold storage and
// reports how many it wrote.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}
