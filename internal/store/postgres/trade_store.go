package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `trade_id, offer_id, buyer, seller,
	amount::text, price::text, notional::text, fee::text, timestamp`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var (
			f                           domain.Fill
			amount, price, notional, fee string
		)
		if err := rows.Scan(
			&f.TradeID, &f.OfferID, &f.Buyer, &f.Seller,
			&amount, &price, &notional, &fee, &f.Timestamp,
		); err != nil {
			return nil, err
		}
		var err error
		if f.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		if f.Notional, err = decimal.NewFromString(notional); err != nil {
			return nil, fmt.Errorf("parse notional %q: %w", notional, err)
		}
		if f.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("parse fee %q: %w", fee, err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Insert persists a fill. Re-delivery of the same trade id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, fill domain.Fill) error {
	const query = `
		INSERT INTO trades (
			trade_id, offer_id, buyer, seller, amount, price, notional, fee, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (trade_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		fill.TradeID, fill.OfferID, fill.Buyer, fill.Seller,
		fill.Amount.String(), fill.Price.String(),
		fill.Notional.String(), fill.Fee.String(), fill.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", fill.TradeID, err)
	}
	return nil
}

// ListByOffer returns fills against an offer, newest first.
func (s *TradeStore) ListByOffer(ctx context.Context, offerID uint64, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE offer_id = $1`
	args := []any{offerID}
	query, args = applyListOpts(query, args, "timestamp", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by offer: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by offer: %w", err)
	}
	return fills, nil
}

// ListRecent returns the most recent fills across all offers.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Fill, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + tradeSelectCols + ` FROM trades ORDER BY timestamp DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return fills, nil
}

// ListBefore returns fills strictly before the given time, oldest first,
// for archiving.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE timestamp < $1 ORDER BY timestamp ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return fills, nil
}

// DeleteBefore removes fills with timestamp before the given time and
// returns the number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
