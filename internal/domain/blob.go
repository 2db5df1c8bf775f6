package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettlementReport is the archived record of a resolved market.
type SettlementReport struct {
	Market     Market    `json:"market"`
	Bets       []Bet     `json:"bets"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Archiver exports resolved markets to cold storage.
type Archiver interface {
	ArchiveSettled(ctx context.Context, before time.Time) (int64, error)
}
