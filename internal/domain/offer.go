package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfferStatus tracks the offer lifecycle. Transitions are monotonic:
// active → partially_filled → completed, with cancelled and expired as the
// other terminal states. Offers are never deleted; terminal offers remain in
// the ledger for audit.
type OfferStatus string

const (
	OfferStatusActive          OfferStatus = "active"
	OfferStatusPartiallyFilled OfferStatus = "partially_filled"
	OfferStatusCompleted       OfferStatus = "completed"
	OfferStatusCancelled       OfferStatus = "cancelled"
	OfferStatusExpired         OfferStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferStatusCompleted, OfferStatusCancelled, OfferStatusExpired:
		return true
	}
	return false
}

// MaxOfferLifetime bounds how far in the future an offer may expire.
const MaxOfferLifetime = 30 * 24 * time.Hour

// Offer is a standing sell order: Amount units of OfferToken for Price units
// of PaymentToken each, optionally restricted to a designated buyer.
// Invariant: Remaining ≤ Amount, and Remaining is non-increasing over the
// offer's life.
type Offer struct {
	ID           uint64          `json:"id"`
	Seller       string          `json:"seller"`
	Buyer        string          `json:"buyer,omitempty"` // designated buyer for private offers
	OfferToken   string          `json:"offer_token"`
	PaymentToken string          `json:"payment_token"`
	Price        decimal.Decimal `json:"price"`  // payment tokens per unit of offer token
	Amount       decimal.Decimal `json:"amount"` // original amount
	Remaining    decimal.Decimal `json:"remaining"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Status       OfferStatus     `json:"status"`
	Private      bool            `json:"private"`
}

// ExpiredAt reports whether the offer's expiry timestamp has passed at t.
func (o Offer) ExpiredAt(t time.Time) bool {
	return !t.Before(o.ExpiresAt)
}

// CreateOfferRequest carries the parameters of a createOffer call.
type CreateOfferRequest struct {
	OfferToken   string          `json:"offer_token"`
	PaymentToken string          `json:"payment_token"`
	Buyer        string          `json:"buyer,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Private      bool            `json:"private"`
}

// BatchCreateResult reports the outcome of one element of a batch create.
// Failed elements carry the error; successful ones carry the new offer id.
type BatchCreateResult struct {
	Index   int    `json:"index"`
	OfferID uint64 `json:"offer_id,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Fill is the record of a single settlement against an offer.
type Fill struct {
	TradeID   string          `json:"trade_id"`
	OfferID   uint64          `json:"offer_id"`
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	Amount    decimal.Decimal `json:"amount"`   // offer-token units filled
	Price     decimal.Decimal `json:"price"`    // offer unit price
	Notional  decimal.Decimal `json:"notional"` // amount * price, in payment tokens
	Fee       decimal.Decimal `json:"fee"`      // payment tokens, paid by buyer
	Timestamp time.Time       `json:"timestamp"`
}

// OfferFilter narrows ListOffers queries.
type OfferFilter struct {
	Seller string
	Status OfferStatus
	Limit  int
}
