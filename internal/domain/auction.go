package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus tracks the auction lifecycle.
type AuctionStatus string

const (
	AuctionPending  AuctionStatus = "pending"
	AuctionApproved AuctionStatus = "approved"
	AuctionRejected AuctionStatus = "rejected"
	AuctionClosed   AuctionStatus = "closed"
)

// Valid reports whether s is one of the known statuses.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionPending, AuctionApproved, AuctionRejected, AuctionClosed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition can leave s.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionRejected, AuctionClosed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows s -> next.
//
//	pending  -> approved | rejected
//	approved -> closed
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionPending:
		return next == AuctionApproved || next == AuctionRejected
	case AuctionApproved:
		return next == AuctionClosed
	case AuctionRejected, AuctionClosed:
		return false
	default:
		return false
	}
}

// Auction is a listing that accepts bids between TimeStart and TimeEnd once
// approved. Version is bumped on every accepted bid and every status change
// and serves as the optimistic concurrency token for the bid ledger.
type Auction struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	PriceStart  decimal.Decimal `json:"price_start"`
	TimeStart   time.Time       `json:"time_start"`
	TimeEnd     time.Time       `json:"time_end"`
	Status      AuctionStatus   `json:"status"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OpenAt reports whether now falls inside [TimeStart, TimeEnd].
func (a Auction) OpenAt(now time.Time) bool {
	return !now.Before(a.TimeStart) && !now.After(a.TimeEnd)
}

// ExpiredAt reports whether the auction is approved and its end time has
// been reached.
func (a Auction) ExpiredAt(now time.Time) bool {
	return a.Status == AuctionApproved && !now.Before(a.TimeEnd)
}
