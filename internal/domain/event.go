package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a notification published for an auction.
type EventType string

const (
	EventBidAccepted       EventType = "bid_accepted"
	EventHighestBidChanged EventType = "highest_bid_changed"
	EventAuctionClosed     EventType = "auction_closed"
)

// Event is the envelope observers receive. The payload shape is fixed per
// type; see BidAcceptedPayload, HighestBidChangedPayload and
// AuctionClosedPayload.
type Event struct {
	Type      EventType       `json:"type"`
	AuctionID string          `json:"auction_id"`
	Payload   json.RawMessage `json:"payload"`
}

// BidAcceptedPayload is the payload of EventBidAccepted.
type BidAcceptedPayload struct {
	BidID    string    `json:"bid_id"`
	BidderID string    `json:"bidder_id"`
	Amount   string    `json:"amount"`
	Time     time.Time `json:"time"`
}

// HighestBidChangedPayload is the payload of EventHighestBidChanged.
type HighestBidChangedPayload struct {
	Amount   string `json:"amount"`
	BidderID string `json:"bidder_id"`
}

// AuctionClosedPayload is the payload of EventAuctionClosed. Both fields are
// null when the auction closed without bids.
type AuctionClosedPayload struct {
	WinnerID *string `json:"winner_id"`
	Amount   *string `json:"amount"`
}

// NewBidAcceptedEvent builds the bid_accepted event for b.
func NewBidAcceptedEvent(b Bid) Event {
	return newEvent(EventBidAccepted, b.AuctionID, BidAcceptedPayload{
		BidID:    b.ID,
		BidderID: b.BidderID,
		Amount:   FormatMoney(b.Amount),
		Time:     b.PlacedAt,
	})
}

// NewHighestBidChangedEvent builds the highest_bid_changed event for b.
func NewHighestBidChangedEvent(b Bid) Event {
	return newEvent(EventHighestBidChanged, b.AuctionID, HighestBidChangedPayload{
		Amount:   FormatMoney(b.Amount),
		BidderID: b.BidderID,
	})
}

// NewAuctionClosedEvent builds the auction_closed event. winner is nil when
// there were no bids.
func NewAuctionClosedEvent(auctionID string, winner *Bid) Event {
	var p AuctionClosedPayload
	if winner != nil {
		id := winner.BidderID
		amt := FormatMoney(winner.Amount)
		p.WinnerID = &id
		p.Amount = &amt
	}
	return newEvent(EventAuctionClosed, auctionID, p)
}

func newEvent(t EventType, auctionID string, payload any) Event {
	// The payload types above contain only strings, pointers and times, so
	// marshalling cannot fail.
	raw, _ := json.Marshal(payload)
	return Event{Type: t, AuctionID: auctionID, Payload: raw}
}

// Snapshot is sent to an observer when it joins an auction channel so it
// does not depend on event history.
type Snapshot struct {
	AuctionID      string          `json:"auction_id"`
	Status         AuctionStatus   `json:"status"`
	CurrentHighest decimal.Decimal `json:"current_highest"`
	HighestBidder  string          `json:"highest_bidder,omitempty"`
	TimeEnd        time.Time       `json:"time_end"`
}

// EventPublisher delivers events to observers of an auction.
type EventPublisher interface {
	Publish(ctx context.Context, auctionID string, evt Event) error
}
