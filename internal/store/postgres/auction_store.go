package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, owner_id, name, description, image_url, price_start,
			time_start, time_end, status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.OwnerID, a.Name, a.Description, a.ImageURL,
		a.PriceStart.StringFixed(domain.MoneyScale),
		a.TimeStart, a.TimeEnd, string(a.Status), a.Version,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create auction %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

const auctionSelectCols = `id, owner_id, name, description, image_url, price_start::text,
	time_start, time_end, status, version, created_at, updated_at`

func scanAuction(scanner rowScanner) (domain.Auction, error) {
	var a domain.Auction
	var priceStart, status string

	err := scanner.Scan(
		&a.ID, &a.OwnerID, &a.Name, &a.Description, &a.ImageURL, &priceStart,
		&a.TimeStart, &a.TimeEnd, &status, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}

	a.Status = domain.AuctionStatus(status)
	if a.PriceStart, err = decimal.NewFromString(priceStart); err != nil {
		return domain.Auction{}, fmt.Errorf("price_start %q: %w", priceStart, err)
	}
	return a, nil
}

func scanAuctionRows(rows pgx.Rows) ([]domain.Auction, error) {
	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// GetByID retrieves a single auction by ID.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)

	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// UpdateStatus performs a conditional status change. Only the row whose
// current status equals from is touched, so of two racing transitions
// exactly one succeeds.
func (s *AuctionStore) UpdateStatus(ctx context.Context, id string, from, to domain.AuctionStatus, at time.Time) error {
	const query = `
		UPDATE auctions
		SET status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("postgres: update auction status %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: update auction status %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("postgres: auction %s is not %s: %w", id, from, domain.ErrInvalidTransition)
}

// ListExpired returns approved auctions whose end time has passed.
func (s *AuctionStore) ListExpired(ctx context.Context, now time.Time) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions
		 WHERE status = 'approved' AND time_end <= $1
		 ORDER BY time_end ASC, id ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired auctions: %w", err)
	}
	defer rows.Close()

	auctions, err := scanAuctionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired auctions: %w", err)
	}
	return auctions, nil
}

// ListActive returns approved auctions open at now, ending soonest first.
func (s *AuctionStore) ListActive(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions
		WHERE status = 'approved' AND time_start <= $1 AND time_end >= $1`
	query, args := appendListOpts(query, []any{now}, "created_at", "time_end ASC, id ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active auctions: %w", err)
	}
	defer rows.Close()

	auctions, err := scanAuctionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active auctions: %w", err)
	}
	return auctions, nil
}

// ListByOwner returns an owner's auctions, newest first.
func (s *AuctionStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE owner_id = $1`
	query, args := appendListOpts(query, []any{ownerID}, "created_at", "created_at DESC, id ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions by owner: %w", err)
	}
	defer rows.Close()

	auctions, err := scanAuctionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan auctions by owner: %w", err)
	}
	return auctions, nil
}
