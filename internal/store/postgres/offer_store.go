package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

// OfferStore implements domain.OfferStore using PostgreSQL.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore creates an OfferStore backed by the given connection pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

const offerSelectCols = `id, seller, buyer, offer_token, payment_token,
	price::text, amount::text, remaining::text,
	created_at, expires_at, status, private`

func scanOffer(row pgx.Row) (domain.Offer, error) {
	var (
		o                        domain.Offer
		price, amount, remaining string
		status                   string
	)
	if err := row.Scan(
		&o.ID, &o.Seller, &o.Buyer, &o.OfferToken, &o.PaymentToken,
		&price, &amount, &remaining,
		&o.CreatedAt, &o.ExpiresAt, &status, &o.Private,
	); err != nil {
		return domain.Offer{}, err
	}

	var err error
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Offer{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Offer{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if o.Remaining, err = decimal.NewFromString(remaining); err != nil {
		return domain.Offer{}, fmt.Errorf("parse remaining %q: %w", remaining, err)
	}
	o.Status = domain.OfferStatus(status)
	return o, nil
}

func scanOfferRows(rows pgx.Rows) ([]domain.Offer, error) {
	var offers []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// Upsert writes the offer snapshot, replacing any previous snapshot of the
// same offer. Later snapshots always win; offer state is monotonic.
func (s *OfferStore) Upsert(ctx context.Context, offer domain.Offer) error {
	const query = `
		INSERT INTO offers (
			id, seller, buyer, offer_token, payment_token,
			price, amount, remaining, created_at, expires_at, status, private
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			remaining = EXCLUDED.remaining,
			status = EXCLUDED.status,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		offer.ID, offer.Seller, offer.Buyer, offer.OfferToken, offer.PaymentToken,
		offer.Price.String(), offer.Amount.String(), offer.Remaining.String(),
		offer.CreatedAt, offer.ExpiresAt, string(offer.Status), offer.Private,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert offer %d: %w", offer.ID, err)
	}
	return nil
}

// GetByID returns a single offer snapshot.
func (s *OfferStore) GetByID(ctx context.Context, id uint64) (domain.Offer, error) {
	query := `SELECT ` + offerSelectCols + ` FROM offers WHERE id = $1`
	offer, err := scanOffer(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Offer{}, domain.Errorf(domain.ErrNotFound, "", "offer %d not found", id)
		}
		return domain.Offer{}, fmt.Errorf("postgres: get offer %d: %w", id, err)
	}
	return offer, nil
}

// ListBySeller returns offers created by the seller, newest first.
func (s *OfferStore) ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.Offer, error) {
	query := `SELECT ` + offerSelectCols + ` FROM offers WHERE seller = $1`
	args := []any{seller}
	query, args = applyListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers by seller: %w", err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan offers by seller: %w", err)
	}
	return offers, nil
}

// ListByStatus returns offers in the given lifecycle state, newest first.
func (s *OfferStore) ListByStatus(ctx context.Context, status domain.OfferStatus, opts domain.ListOpts) ([]domain.Offer, error) {
	query := `SELECT ` + offerSelectCols + ` FROM offers WHERE status = $1`
	args := []any{string(status)}
	query, args = applyListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers by status: %w", err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan offers by status: %w", err)
	}
	return offers, nil
}

// ListTerminalBefore returns terminal offers last updated before the given
// time, oldest first, for archiving.
func (s *OfferStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Offer, error) {
	query := `SELECT ` + offerSelectCols + ` FROM offers
		WHERE status IN ('completed', 'cancelled', 'expired') AND updated_at < $1
		ORDER BY updated_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal offers: %w", err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal offers: %w", err)
	}
	return offers, nil
}

// applyListOpts appends time filters, ordering and pagination to a query
// whose WHERE clause is already open.
func applyListOpts(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
