package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/otcdesk/internal/domain"
)

type memOfferStore struct {
	mu     sync.Mutex
	offers map[uint64]domain.Offer
}

func newMemOfferStore() *memOfferStore {
	return &memOfferStore{offers: make(map[uint64]domain.Offer)}
}

func (s *memOfferStore) Upsert(_ context.Context, offer domain.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[offer.ID] = offer
	return nil
}

func (s *memOfferStore) GetByID(_ context.Context, id uint64) (domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, ok := s.offers[id]
	if !ok {
		return domain.Offer{}, domain.Errorf(domain.ErrNotFound, "", "offer %d", id)
	}
	return offer, nil
}

func (s *memOfferStore) ListBySeller(context.Context, string, domain.ListOpts) ([]domain.Offer, error) {
	return nil, nil
}

func (s *memOfferStore) ListByStatus(context.Context, domain.OfferStatus, domain.ListOpts) ([]domain.Offer, error) {
	return nil, nil
}

func (s *memOfferStore) ListTerminalBefore(context.Context, time.Time) ([]domain.Offer, error) {
	return nil, nil
}

type memTradeStore struct {
	mu    sync.Mutex
	fills []domain.Fill
}

func (s *memTradeStore) Insert(_ context.Context, fill domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, fill)
	return nil
}

func (s *memTradeStore) ListByOffer(context.Context, uint64, domain.ListOpts) ([]domain.Fill, error) {
	return nil, nil
}
func (s *memTradeStore) ListRecent(context.Context, int) ([]domain.Fill, error)    { return nil, nil }
func (s *memTradeStore) ListBefore(context.Context, time.Time) ([]domain.Fill, error) {
	return nil, nil
}
func (s *memTradeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (s *memAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus { return &memBus{messages: make(map[string][][]byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

type memNotifier struct {
	mu    sync.Mutex
	sent  []string
	count int
}

func (n *memNotifier) Notify(_ context.Context, event, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, event+": "+title)
	n.count++
	return nil
}

func newTestPublisher() (*EventPublisher, *memOfferStore, *memTradeStore, *memAuditStore, *memBus, *memNotifier) {
	offers := newMemOfferStore()
	trades := &memTradeStore{}
	audit := &memAuditStore{}
	bus := newMemBus()
	notifier := &memNotifier{}
	p := NewEventPublisher(offers, trades, audit, bus, notifier, slog.New(slog.DiscardHandler))
	return p, offers, trades, audit, bus, notifier
}

func TestPublisherFillEvent(t *testing.T) {
	p, offers, trades, _, bus, _ := newTestPublisher()
	ctx := context.Background()

	offer := domain.Offer{ID: 7, Seller: "alice", Status: domain.OfferStatusPartiallyFilled, Remaining: decimal.NewFromInt(6)}
	fill := domain.Fill{TradeID: "t-1", OfferID: 7, Buyer: "bob", Notional: decimal.NewFromInt(9800)}

	p.process(ctx, domain.Event{
		Type:    domain.EventOfferFilled,
		Payload: domain.OfferEvent{Offer: offer, Fill: &fill},
	})

	stored, err := offers.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusPartiallyFilled, stored.Status)

	require.Len(t, trades.fills, 1)
	assert.Equal(t, "t-1", trades.fills[0].TradeID)

	require.Len(t, bus.messages[ChannelTrades], 1)
	var decoded domain.Event
	require.NoError(t, json.Unmarshal(bus.messages[ChannelTrades][0], &decoded))
	assert.Equal(t, domain.EventOfferFilled, decoded.Type)
}

func TestPublisherBreakerTripAlerts(t *testing.T) {
	p, _, _, audit, bus, notifier := newTestPublisher()
	ctx := context.Background()

	p.process(ctx, domain.Event{
		Type:    domain.EventBreakerTripped,
		Payload: domain.BreakerEvent{Token: "WETH", Cause: "consecutive failures"},
	})

	assert.Len(t, bus.messages[ChannelRisk], 1)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, string(domain.EventBreakerTripped), audit.entries[0].Event)
	require.Equal(t, 1, notifier.count)
	assert.Contains(t, notifier.sent[0], "breaker_tripped")
}

func TestPublisherNilDependencies(t *testing.T) {
	p := NewEventPublisher(nil, nil, nil, nil, nil, slog.New(slog.DiscardHandler))
	// Must not panic with every fan-out target unset.
	p.process(context.Background(), domain.Event{
		Type:    domain.EventOfferCreated,
		Payload: domain.OfferEvent{Offer: domain.Offer{ID: 1}},
	})
	p.process(context.Background(), domain.Event{
		Type:    domain.EventPaused,
		Payload: domain.AdminEvent{Actor: "admin"},
	})
}

func TestPublisherRunDrainsQueue(t *testing.T) {
	p, offers, _, _, _, _ := newTestPublisher()
	ctx, cancel := context.WithCancel(context.Background())

	for i := uint64(1); i <= 5; i++ {
		p.Emit(ctx, domain.Event{
			Type:    domain.EventOfferCreated,
			Payload: domain.OfferEvent{Offer: domain.Offer{ID: i}},
		})
	}
	cancel()
	// Run flushes buffered events before returning on cancellation.
	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	offers.mu.Lock()
	defer offers.mu.Unlock()
	assert.Len(t, offers.offers, 5)
}
