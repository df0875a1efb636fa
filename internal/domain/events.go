package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names the notifications emitted after successful state
// transitions.
type EventType string

const (
	EventOfferCreated   EventType = "offer_created"
	EventOfferFilled    EventType = "offer_filled"
	EventOfferCancelled EventType = "offer_cancelled"
	EventOfferExpired   EventType = "offer_expired"
	EventPriceUpdated   EventType = "price_updated"
	EventEmergencyPrice EventType = "emergency_price"
	EventBreakerTripped EventType = "breaker_tripped"
	EventBreakerReset   EventType = "breaker_reset"
	EventFeesUpdated    EventType = "fees_updated"
	EventPaused         EventType = "paused"
	EventUnpaused       EventType = "unpaused"

	// EventSettlementStalled fires when a payout leg fails after the fill
	// became irreversible; the funds are parked with the engine account
	// until an operator releases them.
	EventSettlementStalled EventType = "settlement_stalled"
)

// Event is emitted after every successful state transition. Payload is one of
// the typed payload structs below, JSON-serializable.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// EventSink receives engine events. Emit is called synchronously after the
// state transition committed; implementations must not call back into the
// engine.
type EventSink interface {
	Emit(ctx context.Context, evt Event)
}

// OfferEvent is the payload of offer lifecycle events.
type OfferEvent struct {
	Offer Offer `json:"offer"`
	Fill  *Fill `json:"fill,omitempty"` // set on offer_filled
}

// PriceEvent is the payload of price_updated and emergency_price events.
type PriceEvent struct {
	Token  string          `json:"token"`
	Price  decimal.Decimal `json:"price"`
	Reason string          `json:"reason,omitempty"`
	Actor  string          `json:"actor,omitempty"`
}

// BreakerEvent is the payload of breaker_tripped and breaker_reset events.
type BreakerEvent struct {
	Token string        `json:"token"`
	Cause string        `json:"cause,omitempty"`
	State BreakerStatus `json:"state"`
}

// FeeEvent is the payload of fees_updated events.
type FeeEvent struct {
	Fees  FeeStructure `json:"fees"`
	Actor string       `json:"actor"`
}

// AdminEvent is the payload of paused/unpaused events.
type AdminEvent struct {
	Actor string `json:"actor"`
}

// SettlementEvent is the payload of settlement_stalled events.
type SettlementEvent struct {
	OfferID uint64          `json:"offer_id"`
	Token   string          `json:"token"`
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason"`
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, evt Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ctx context.Context, evt Event) { f(ctx, evt) }
