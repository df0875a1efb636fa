package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveSnapshot describes one month of archived history in cold storage.
type ArchiveSnapshot struct {
	Kind         string    `json:"kind"`  // "trades" or "offers"
	Month        string    `json:"month"` // "2026-08"
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ArchiveReader browses the snapshots the Archiver has written.
type ArchiveReader interface {
	ListSnapshots(ctx context.Context, kind string) ([]ArchiveSnapshot, error)
	OpenSnapshot(ctx context.Context, kind, month string) (io.ReadCloser, error)
}

// Archiver moves settled history from the database to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveOffers(ctx context.Context, before time.Time) (int64, error)
}
