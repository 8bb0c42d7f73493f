package domain

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

var allAuctionStatuses = []AuctionStatus{AuctionPending, AuctionApproved, AuctionRejected, AuctionClosed}

func TestAuctionStatus_TransitionTable(t *testing.T) {
	allowed := map[[2]AuctionStatus]bool{
		{AuctionPending, AuctionApproved}: true,
		{AuctionPending, AuctionRejected}: true,
		{AuctionApproved, AuctionClosed}:  true,
	}

	for _, from := range allAuctionStatuses {
		for _, to := range allAuctionStatuses {
			want := allowed[[2]AuctionStatus{from, to}]
			check.Equal(t, want, from.CanTransitionTo(to))
		}
	}
}

func TestAuctionStatus_TerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range []AuctionStatus{AuctionRejected, AuctionClosed} {
		check.True(t, from.Terminal())
		for _, to := range allAuctionStatuses {
			check.False(t, from.CanTransitionTo(to))
		}
	}
	check.False(t, AuctionStatus("reopened").Valid())
	check.False(t, AuctionStatus("reopened").CanTransitionTo(AuctionApproved))
}

func TestAuction_OpenAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Auction{TimeStart: start, TimeEnd: start.Add(time.Hour), Status: AuctionApproved}

	check.False(t, a.OpenAt(start.Add(-time.Millisecond)))
	check.True(t, a.OpenAt(start))
	check.True(t, a.OpenAt(a.TimeEnd))
	check.False(t, a.OpenAt(a.TimeEnd.Add(time.Millisecond)))

	check.False(t, a.ExpiredAt(a.TimeEnd.Add(-time.Millisecond)))
	check.True(t, a.ExpiredAt(a.TimeEnd))

	a.Status = AuctionClosed
	check.False(t, a.ExpiredAt(a.TimeEnd.Add(time.Hour)))
}
