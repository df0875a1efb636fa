package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantfall/otcdesk/internal/domain"
)

// TradeArchiveSource is the slice of the trade store the archiver reads.
type TradeArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OfferArchiveSource is the slice of the offer store the archiver reads.
// Offer snapshots are never deleted; terminal offers are copied to cold
// storage and stay queryable in the database.
type OfferArchiveSource interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Offer, error)
}

// Archiver implements domain.Archiver: it snapshots settled history to
// S3 as JSONL, partitioned by the cutoff month, and records each sweep in
// the audit log. Old fills are deleted from the database only after the
// upload succeeded.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveSource
	offers OfferArchiveSource
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveSource, offers OfferArchiveSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		offers: offers,
		audit:  audit,
	}
}

// ArchiveTrades uploads all fills before the cutoff to
// archive/trades/YYYY-MM.jsonl, then deletes them from the database.
// Returns the number of fills archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(fills)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(fills)), fmt.Errorf("s3blob: archive trades delete: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":    path,
		"count":   len(fills),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return int64(len(fills)), fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}
	return int64(len(fills)), nil
}

// ArchiveOffers uploads terminal offers last touched before the cutoff to
// archive/offers/YYYY-MM.jsonl. Returns the number of offers archived.
func (a *Archiver) ArchiveOffers(ctx context.Context, before time.Time) (int64, error) {
	offers, err := a.offers.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive offers query: %w", err)
	}
	if len(offers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(offers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive offers marshal: %w", err)
	}

	path := archivePath("offers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive offers upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.offers", map[string]any{
		"path":   path,
		"count":  len(offers),
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return int64(len(offers)), fmt.Errorf("s3blob: archive offers audit log: %w", err)
	}
	return int64(len(offers)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
