package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OfferStore is the write-behind persistence of the offer ledger. The engine's
// in-memory ledger is authoritative; the store keeps the audit/history copy.
type OfferStore interface {
	Upsert(ctx context.Context, offer Offer) error
	GetByID(ctx context.Context, id uint64) (Offer, error)
	ListBySeller(ctx context.Context, seller string, opts ListOpts) ([]Offer, error)
	ListByStatus(ctx context.Context, status OfferStatus, opts ListOpts) ([]Offer, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]Offer, error)
}

// TradeStore persists settlement fills.
type TradeStore interface {
	Insert(ctx context.Context, fill Fill) error
	ListByOffer(ctx context.Context, offerID uint64, opts ListOpts) ([]Fill, error)
	ListRecent(ctx context.Context, limit int) ([]Fill, error)
	ListBefore(ctx context.Context, before time.Time) ([]Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
