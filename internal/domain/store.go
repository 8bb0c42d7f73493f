package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore persists auctions.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	// UpdateStatus moves an auction from one status to another and bumps its
	// version. It returns ErrInvalidTransition when the stored status is not
	// from, and ErrNotFound when the auction does not exist.
	UpdateStatus(ctx context.Context, id string, from, to AuctionStatus, at time.Time) error
	// ListExpired returns approved auctions whose end time is at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]Auction, error)
	// ListActive returns approved auctions open at now, ending soonest first.
	ListActive(ctx context.Context, now time.Time, opts ListOpts) ([]Auction, error)
	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Auction, error)
}

// BidStore persists bids.
type BidStore interface {
	// Winning returns the current winning bid, or ErrNotFound when the
	// auction has no bids.
	Winning(ctx context.Context, auctionID string) (Bid, error)
	// AppendWinning atomically checks that the auction version still equals
	// expectedVersion, clears the previous winner, inserts b as the new
	// winner and bumps the version. A stale version yields
	// ErrVersionConflict and nothing is written.
	AppendWinning(ctx context.Context, b Bid, expectedVersion int64) error
	// ListByAuction returns bids newest first.
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
	ListByBidder(ctx context.Context, bidderID string, opts ListOpts) ([]Bid, error)
}

// SettlementStore persists settlement obligations.
type SettlementStore interface {
	// Create inserts s unless an obligation for s.AuctionID exists. It
	// returns the stored obligation and whether this call created it.
	Create(ctx context.Context, s SettlementObligation) (SettlementObligation, bool, error)
	GetByID(ctx context.Context, id string) (SettlementObligation, error)
	GetByAuction(ctx context.Context, auctionID string) (SettlementObligation, error)
	// UpdateStatus moves an obligation from one status to another. It
	// returns ErrInvalidTransition when the stored status is not from.
	UpdateStatus(ctx context.Context, id string, from, to SettlementStatus, at time.Time) error
	List(ctx context.Context, opts ListOpts) ([]SettlementObligation, error)
	ListByWinner(ctx context.Context, winnerID string, opts ListOpts) ([]SettlementObligation, error)
	Stats(ctx context.Context) (SettlementStats, error)
	// ListUnsettled returns closed auctions with a winning bid and no
	// obligation.
	ListUnsettled(ctx context.Context) ([]UnsettledAuction, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// CreateAuctionParams carries the seller-supplied fields of a new auction.
type CreateAuctionParams struct {
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ImageURL    string          `json:"image_url"`
	PriceStart  decimal.Decimal `json:"price_start"`
	TimeStart   time.Time       `json:"time_start"`
	TimeEnd     time.Time       `json:"time_end"`
}
