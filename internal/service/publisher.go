// Package service wraps the settlement engine with persistence, caching,
// event fan-out and notifications. Services never hold engine state; the
// engine's in-memory ledger stays authoritative and the stores keep the
// write-behind audit/history copy.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quantfall/otcdesk/internal/domain"
)

// Signal bus channels.
const (
	ChannelOffers = "offers"
	ChannelTrades = "trades"
	ChannelPrices = "prices"
	ChannelRisk   = "risk"
)

// Notifier delivers operator alerts for a named event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EventPublisher is the engine's EventSink. Emit enqueues; a background pump
// persists offer/fill snapshots, publishes to the signal bus, writes audit
// rows and raises operator alerts. The pump keeps the engine's critical
// section free of I/O.
type EventPublisher struct {
	offers   domain.OfferStore
	trades   domain.TradeStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger

	queue chan domain.Event
}

// NewEventPublisher creates a publisher. Any dependency may be nil; the
// corresponding fan-out step is skipped (demo mode runs without postgres).
func NewEventPublisher(
	offers domain.OfferStore,
	trades domain.TradeStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *EventPublisher {
	return &EventPublisher{
		offers:   offers,
		trades:   trades,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_publisher")),
		queue:    make(chan domain.Event, 1024),
	}
}

// Emit implements domain.EventSink. It never blocks the caller; when the
// queue is full the event is dropped and counted against the log.
func (p *EventPublisher) Emit(ctx context.Context, evt domain.Event) {
	select {
	case p.queue <- evt:
	default:
		p.logger.WarnContext(ctx, "event queue full, dropping event",
			slog.String("type", string(evt.Type)),
		)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is already
// buffered.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case evt := <-p.queue:
					p.process(context.Background(), evt)
				default:
					return ctx.Err()
				}
			}
		case evt := <-p.queue:
			p.process(ctx, evt)
		}
	}
}

func (p *EventPublisher) process(ctx context.Context, evt domain.Event) {
	switch evt.Type {
	case domain.EventOfferCreated, domain.EventOfferCancelled, domain.EventOfferExpired:
		if oe, ok := evt.Payload.(domain.OfferEvent); ok {
			p.persistOffer(ctx, oe.Offer)
		}
		p.publish(ctx, ChannelOffers, evt)

	case domain.EventOfferFilled:
		if oe, ok := evt.Payload.(domain.OfferEvent); ok {
			p.persistOffer(ctx, oe.Offer)
			if oe.Fill != nil {
				p.persistFill(ctx, *oe.Fill)
			}
		}
		p.publish(ctx, ChannelTrades, evt)

	case domain.EventPriceUpdated:
		p.publish(ctx, ChannelPrices, evt)

	case domain.EventEmergencyPrice:
		p.publish(ctx, ChannelPrices, evt)
		p.auditLog(ctx, evt)
		if pe, ok := evt.Payload.(domain.PriceEvent); ok {
			p.notify(ctx, evt.Type, "Emergency price set",
				fmt.Sprintf("token=%s price=%s actor=%s reason=%s", pe.Token, pe.Price, pe.Actor, pe.Reason))
		}

	case domain.EventBreakerTripped:
		p.publish(ctx, ChannelRisk, evt)
		p.auditLog(ctx, evt)
		if be, ok := evt.Payload.(domain.BreakerEvent); ok {
			p.notify(ctx, evt.Type, "Circuit breaker tripped",
				fmt.Sprintf("token=%s cause=%s", be.Token, be.Cause))
		}

	case domain.EventBreakerReset, domain.EventFeesUpdated, domain.EventUnpaused:
		p.publish(ctx, ChannelRisk, evt)
		p.auditLog(ctx, evt)

	case domain.EventSettlementStalled:
		p.publish(ctx, ChannelRisk, evt)
		p.auditLog(ctx, evt)
		if se, ok := evt.Payload.(domain.SettlementEvent); ok {
			p.notify(ctx, evt.Type, "Settlement payout stalled",
				fmt.Sprintf("offer=%d token=%s to=%s amount=%s reason=%s",
					se.OfferID, se.Token, se.To, se.Amount, se.Reason))
		}

	case domain.EventPaused:
		p.publish(ctx, ChannelRisk, evt)
		p.auditLog(ctx, evt)
		if ae, ok := evt.Payload.(domain.AdminEvent); ok {
			p.notify(ctx, evt.Type, "Trading paused",
				fmt.Sprintf("actor=%s", ae.Actor))
		}

	default:
		p.publish(ctx, ChannelRisk, evt)
	}
}

func (p *EventPublisher) persistOffer(ctx context.Context, offer domain.Offer) {
	if p.offers == nil {
		return
	}
	if err := p.offers.Upsert(ctx, offer); err != nil {
		p.logger.WarnContext(ctx, "offer snapshot persist failed",
			slog.Uint64("offer_id", offer.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *EventPublisher) persistFill(ctx context.Context, fill domain.Fill) {
	if p.trades == nil {
		return
	}
	if err := p.trades.Insert(ctx, fill); err != nil {
		p.logger.WarnContext(ctx, "fill persist failed",
			slog.String("trade_id", fill.TradeID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *EventPublisher) publish(ctx context.Context, channel string, evt domain.Event) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.WarnContext(ctx, "event marshal failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.WarnContext(ctx, "bus publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (p *EventPublisher) auditLog(ctx context.Context, evt domain.Event) {
	if p.audit == nil {
		return
	}
	detail := map[string]any{"payload": evt.Payload}
	if err := p.audit.Log(ctx, string(evt.Type), detail); err != nil {
		p.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (p *EventPublisher) notify(ctx context.Context, typ domain.EventType, title, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, string(typ), title, message); err != nil {
		p.logger.WarnContext(ctx, "notification failed",
			slog.String("event", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
