package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus tracks payment progress of an obligation. Money movement
// itself happens elsewhere; this only records where it stands.
type SettlementStatus string

const (
	SettlementUnpaid    SettlementStatus = "unpaid"
	SettlementInTransit SettlementStatus = "in_transit"
	SettlementComplete  SettlementStatus = "complete"
)

// Valid reports whether s is one of the known statuses.
func (s SettlementStatus) Valid() bool {
	switch s {
	case SettlementUnpaid, SettlementInTransit, SettlementComplete:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether s -> next is allowed.
//
//	unpaid     -> in_transit
//	in_transit -> complete | unpaid
func (s SettlementStatus) CanTransitionTo(next SettlementStatus) bool {
	switch s {
	case SettlementUnpaid:
		return next == SettlementInTransit
	case SettlementInTransit:
		return next == SettlementComplete || next == SettlementUnpaid
	case SettlementComplete:
		return false
	default:
		return false
	}
}

// SettlementObligation records what the winner of a closed auction owes.
// There is at most one per auction.
type SettlementObligation struct {
	ID        string           `json:"id"`
	AuctionID string           `json:"auction_id"`
	WinnerID  string           `json:"winner_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Status    SettlementStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// UnsettledAuction is a closed auction that has a winning bid but no
// obligation yet, typically left behind by a crash between closing and
// issuing.
type UnsettledAuction struct {
	AuctionID string
	WinnerID  string
	Amount    decimal.Decimal
}

// SettlementStats counts obligations per status.
type SettlementStats struct {
	Total     int64 `json:"total"`
	Unpaid    int64 `json:"unpaid"`
	InTransit int64 `json:"in_transit"`
	Complete  int64 `json:"complete"`
}
