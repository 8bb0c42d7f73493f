package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is an accepted offer on an auction. Rejected attempts are never
// stored. Only IsWinning ever changes after insert.
type Bid struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placed_at"`
	IsWinning bool            `json:"is_winning"`
}

// RejectReason is the machine-readable code returned for a refused bid.
type RejectReason string

const (
	RejectAuctionNotFound RejectReason = "auction_not_found"
	RejectAuctionNotOpen  RejectReason = "auction_not_open"
	RejectNotStarted      RejectReason = "auction_not_started"
	RejectEnded           RejectReason = "auction_ended"
	RejectSelfBid         RejectReason = "self_bid"
	RejectTooLow          RejectReason = "bid_too_low"
	RejectInvalidAmount   RejectReason = "invalid_amount"
	RejectUnknownBidder   RejectReason = "unknown_bidder"
	RejectBidderInactive  RejectReason = "bidder_inactive"
	RejectRateLimited     RejectReason = "rate_limited"
)

// BidDecision is the outcome of one acceptance attempt. Exactly one of Bid
// (Accepted) or Reason (rejected) is meaningful.
type BidDecision struct {
	Accepted bool
	Bid      Bid
	Reason   RejectReason
	// CurrentHighest is the amount the attempt was judged against: the
	// winning bid, or the starting price when there is none.
	CurrentHighest decimal.Decimal
	// MinNext is the smallest amount that would have been accepted.
	MinNext decimal.Decimal
}

// BidResult is what the gateway hands back to the web layer.
type BidResult struct {
	Accepted       bool            `json:"accepted"`
	BidID          string          `json:"bid_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         RejectReason    `json:"reason,omitempty"`
	CurrentHighest decimal.Decimal `json:"current_highest"`
	MinNext        decimal.Decimal `json:"min_next"`
}
