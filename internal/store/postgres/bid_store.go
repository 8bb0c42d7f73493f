package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

const bidSelectCols = `id, auction_id, bidder_id, amount::text, placed_at, is_winning`

func scanBid(scanner rowScanner) (domain.Bid, error) {
	var b domain.Bid
	var amount string

	if err := scanner.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount, &b.PlacedAt, &b.IsWinning); err != nil {
		return domain.Bid{}, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("amount %q: %w", amount, err)
	}
	b.Amount = d
	return b, nil
}

func scanBidRows(rows pgx.Rows) ([]domain.Bid, error) {
	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// Winning returns the current winning bid of an auction.
func (s *BidStore) Winning(ctx context.Context, auctionID string) (domain.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bidSelectCols+` FROM bids WHERE auction_id = $1 AND is_winning`, auctionID)

	b, err := scanBid(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bid{}, domain.ErrNotFound
		}
		return domain.Bid{}, fmt.Errorf("postgres: get winning bid %s: %w", auctionID, err)
	}
	return b, nil
}

// AppendWinning records b as the auction's new winning bid in one
// transaction. The auction row is locked FOR UPDATE so the version check and
// the version bump cannot interleave with another writer.
func (s *BidStore) AppendWinning(ctx context.Context, b domain.Bid, expectedVersion int64) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var version int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM auctions WHERE id = $1 FOR UPDATE`, b.AuctionID,
		).Scan(&version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: lock auction %s: %w", b.AuctionID, err)
		}
		if version != expectedVersion {
			return fmt.Errorf("postgres: auction %s at version %d, expected %d: %w",
				b.AuctionID, version, expectedVersion, domain.ErrVersionConflict)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE bids SET is_winning = FALSE WHERE auction_id = $1 AND is_winning`, b.AuctionID,
		); err != nil {
			return fmt.Errorf("postgres: clear winning bid %s: %w", b.AuctionID, err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO bids (id, auction_id, bidder_id, amount, placed_at, is_winning)
			 VALUES ($1, $2, $3, $4, $5, TRUE)`,
			b.ID, b.AuctionID, b.BidderID, b.Amount.StringFixed(domain.MoneyScale), b.PlacedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("postgres: insert bid %s: %w", b.ID, domain.ErrVersionConflict)
			}
			return fmt.Errorf("postgres: insert bid %s: %w", b.ID, err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE auctions SET version = version + 1, updated_at = $2 WHERE id = $1`,
			b.AuctionID, b.PlacedAt,
		); err != nil {
			return fmt.Errorf("postgres: bump auction version %s: %w", b.AuctionID, err)
		}
		return nil
	})
}

// ListByAuction returns an auction's bids, newest first.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE auction_id = $1`
	query, args := appendListOpts(query, []any{auctionID}, "placed_at", "seq DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids by auction: %w", err)
	}
	defer rows.Close()

	bids, err := scanBidRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids by auction: %w", err)
	}
	return bids, nil
}

// ListByBidder returns a bidder's bids across auctions, newest first.
func (s *BidStore) ListByBidder(ctx context.Context, bidderID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE bidder_id = $1`
	query, args := appendListOpts(query, []any{bidderID}, "placed_at", "seq DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids by bidder: %w", err)
	}
	defer rows.Close()

	bids, err := scanBidRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids by bidder: %w", err)
	}
	return bids, nil
}
