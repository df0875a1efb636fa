package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/otcdesk/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = buf
	w.types[path] = contentType
	return nil
}

type stubTradeSource struct {
	fills   []domain.Fill
	deleted int64
}

func (s *stubTradeSource) ListBefore(context.Context, time.Time) ([]domain.Fill, error) {
	return s.fills, nil
}

func (s *stubTradeSource) DeleteBefore(context.Context, time.Time) (int64, error) {
	s.deleted = int64(len(s.fills))
	return s.deleted, nil
}

type stubOfferSource struct {
	offers []domain.Offer
}

func (s *stubOfferSource) ListTerminalBefore(context.Context, time.Time) ([]domain.Offer, error) {
	return s.offers, nil
}

type stubAudit struct {
	events []string
}

func (s *stubAudit) Log(_ context.Context, event string, _ map[string]any) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveTrades(t *testing.T) {
	writer := newMemWriter()
	trades := &stubTradeSource{fills: []domain.Fill{
		{TradeID: "t-1", OfferID: 1, Notional: decimal.NewFromInt(9800)},
		{TradeID: "t-2", OfferID: 1, Notional: decimal.NewFromInt(14700)},
	}}
	audit := &stubAudit{}
	arch := NewArchiver(writer, trades, &stubOfferSource{}, audit)

	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	n, err := arch.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), trades.deleted, "fills are deleted after upload")
	assert.Equal(t, []string{"archive.trades"}, audit.events)

	body, ok := writer.objects["archive/trades/2025-05.jsonl"]
	require.True(t, ok)
	assert.Equal(t, "application/x-ndjson", writer.types["archive/trades/2025-05.jsonl"])

	// One JSON document per line.
	scanner := bufio.NewScanner(bytes.NewReader(body))
	var ids []string
	for scanner.Scan() {
		var fill domain.Fill
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &fill))
		ids = append(ids, fill.TradeID)
	}
	assert.Equal(t, []string{"t-1", "t-2"}, ids)
}

func TestArchiveTradesEmpty(t *testing.T) {
	writer := newMemWriter()
	arch := NewArchiver(writer, &stubTradeSource{}, &stubOfferSource{}, &stubAudit{})

	n, err := arch.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.objects, "no upload for an empty window")
}

func TestArchiveOffers(t *testing.T) {
	writer := newMemWriter()
	offers := &stubOfferSource{offers: []domain.Offer{
		{ID: 3, Status: domain.OfferStatusCompleted},
	}}
	audit := &stubAudit{}
	arch := NewArchiver(writer, &stubTradeSource{}, offers, audit)

	cutoff := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	n, err := arch.ArchiveOffers(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, writer.objects, "archive/offers/2025-06.jsonl")
	assert.Equal(t, []string{"archive.offers"}, audit.events)
}
