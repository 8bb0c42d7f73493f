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

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `id, auction_id, winner_id, amount::text, status, created_at, updated_at`

func scanSettlement(scanner rowScanner) (domain.SettlementObligation, error) {
	var o domain.SettlementObligation
	var amount, status string

	err := scanner.Scan(&o.ID, &o.AuctionID, &o.WinnerID, &amount, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.SettlementObligation{}, err
	}

	o.Status = domain.SettlementStatus(status)
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.SettlementObligation{}, fmt.Errorf("amount %q: %w", amount, err)
	}
	return o, nil
}

func scanSettlementRows(rows pgx.Rows) ([]domain.SettlementObligation, error) {
	var out []domain.SettlementObligation
	for rows.Next() {
		o, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Create inserts o unless the auction already has an obligation, then reads
// back whichever row is stored.
func (s *SettlementStore) Create(ctx context.Context, o domain.SettlementObligation) (domain.SettlementObligation, bool, error) {
	const query = `
		INSERT INTO settlements (id, auction_id, winner_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (auction_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.AuctionID, o.WinnerID, o.Amount.StringFixed(domain.MoneyScale),
		string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return domain.SettlementObligation{}, false, fmt.Errorf("postgres: create settlement %s: %w", o.AuctionID, err)
	}

	stored, err := s.GetByAuction(ctx, o.AuctionID)
	if err != nil {
		return domain.SettlementObligation{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// GetByID retrieves a single obligation by ID.
func (s *SettlementStore) GetByID(ctx context.Context, id string) (domain.SettlementObligation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settlementSelectCols+` FROM settlements WHERE id = $1`, id)

	o, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementObligation{}, domain.ErrNotFound
		}
		return domain.SettlementObligation{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return o, nil
}

// GetByAuction retrieves the obligation issued for an auction.
func (s *SettlementStore) GetByAuction(ctx context.Context, auctionID string) (domain.SettlementObligation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settlementSelectCols+` FROM settlements WHERE auction_id = $1`, auctionID)

	o, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementObligation{}, domain.ErrNotFound
		}
		return domain.SettlementObligation{}, fmt.Errorf("postgres: get settlement for auction %s: %w", auctionID, err)
	}
	return o, nil
}

// UpdateStatus performs a conditional status change on the prior status.
func (s *SettlementStore) UpdateStatus(ctx context.Context, id string, from, to domain.SettlementStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE settlements SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("postgres: update settlement status %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("postgres: settlement %s is not %s: %w", id, from, domain.ErrInvalidTransition)
}

// List returns obligations, newest first.
func (s *SettlementStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementObligation, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE 1=1`
	query, args := appendListOpts(query, nil, "created_at", "created_at DESC, id ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	out, err := scanSettlementRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settlements: %w", err)
	}
	return out, nil
}

// ListByWinner returns the obligations a winner owes, newest first.
func (s *SettlementStore) ListByWinner(ctx context.Context, winnerID string, opts domain.ListOpts) ([]domain.SettlementObligation, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE winner_id = $1`
	query, args := appendListOpts(query, []any{winnerID}, "created_at", "created_at DESC, id ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements by winner: %w", err)
	}
	defer rows.Close()

	out, err := scanSettlementRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settlements by winner: %w", err)
	}
	return out, nil
}

// Stats counts obligations per status.
func (s *SettlementStore) Stats(ctx context.Context) (domain.SettlementStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'unpaid'),
			COUNT(*) FILTER (WHERE status = 'in_transit'),
			COUNT(*) FILTER (WHERE status = 'complete')
		FROM settlements`

	var st domain.SettlementStats
	if err := s.pool.QueryRow(ctx, query).Scan(&st.Total, &st.Unpaid, &st.InTransit, &st.Complete); err != nil {
		return domain.SettlementStats{}, fmt.Errorf("postgres: settlement stats: %w", err)
	}
	return st, nil
}

// ListUnsettled returns closed auctions that have a winning bid but no
// obligation yet.
func (s *SettlementStore) ListUnsettled(ctx context.Context) ([]domain.UnsettledAuction, error) {
	const query = `
		SELECT a.id, b.bidder_id, b.amount::text
		FROM auctions a
		JOIN bids b ON b.auction_id = a.id AND b.is_winning
		LEFT JOIN settlements s ON s.auction_id = a.id
		WHERE a.status = 'closed' AND s.id IS NULL
		ORDER BY a.time_end ASC, a.id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.UnsettledAuction
	for rows.Next() {
		var u domain.UnsettledAuction
		var amount string
		if err := rows.Scan(&u.AuctionID, &u.WinnerID, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan unsettled auction: %w", err)
		}
		if u.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("postgres: unsettled amount %q: %w", amount, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unsettled auctions rows: %w", err)
	}
	return out, nil
}
