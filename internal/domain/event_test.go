package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestNewBidAcceptedEvent_Payload(t *testing.T) {
	placed := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	b := Bid{ID: "b1", AuctionID: "a1", BidderID: "x", Amount: decimal.NewFromInt(101000), PlacedAt: placed}

	evt := NewBidAcceptedEvent(b)
	check.Equal(t, EventBidAccepted, evt.Type)
	check.Equal(t, "a1", evt.AuctionID)

	var p BidAcceptedPayload
	assert.NoError(t, json.Unmarshal(evt.Payload, &p))
	check.Equal(t, "b1", p.BidID)
	check.Equal(t, "x", p.BidderID)
	check.Equal(t, "101000.00", p.Amount)
	check.True(t, placed.Equal(p.Time))
}

func TestNewAuctionClosedEvent_NoWinnerEncodesNulls(t *testing.T) {
	evt := NewAuctionClosedEvent("a1", nil)
	check.Equal(t, `{"winner_id":null,"amount":null}`, string(evt.Payload))

	winner := Bid{BidderID: "z", Amount: decimal.NewFromInt(50000)}
	evt = NewAuctionClosedEvent("a1", &winner)
	check.Equal(t, `{"winner_id":"z","amount":"50000.00"}`, string(evt.Payload))
}

func TestParseMoney(t *testing.T) {
	d, err := ParseMoney("99.955")
	assert.NoError(t, err)
	check.Equal(t, "99.96", FormatMoney(d))

	_, err = ParseMoney("ten")
	check.Error(t, err)
}
