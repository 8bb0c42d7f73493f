package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAuction(t *testing.T, db *DB, id string, status domain.AuctionStatus) domain.Auction {
	t.Helper()
	a := domain.Auction{
		ID:         id,
		OwnerID:    "seller",
		Name:       "lot " + id,
		PriceStart: decimal.NewFromInt(100),
		TimeStart:  t0,
		TimeEnd:    t0.Add(time.Hour),
		Status:     status,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
	assert.NoError(t, db.Auctions().Create(context.Background(), a))
	return a
}

func bid(id, auctionID, bidder string, amount int64, at time.Time) domain.Bid {
	return domain.Bid{ID: id, AuctionID: auctionID, BidderID: bidder, Amount: decimal.NewFromInt(amount), PlacedAt: at}
}

func TestAppendWinningVersioning(t *testing.T) {
	ctx := context.Background()
	db := New()
	seedAuction(t, db, "a1", domain.AuctionApproved)
	bids := db.Bids()

	assert.NoError(t, bids.AppendWinning(ctx, bid("b1", "a1", "x", 1100, t0), 0))
	assert.NoError(t, bids.AppendWinning(ctx, bid("b2", "a1", "y", 2100, t0.Add(time.Second)), 1))

	err := bids.AppendWinning(ctx, bid("b3", "a1", "z", 3100, t0.Add(2*time.Second)), 1)
	check.True(t, errors.Is(err, domain.ErrVersionConflict))

	w, err := bids.Winning(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, "b2", w.ID)

	all, err := bids.ListByAuction(ctx, "a1", domain.ListOpts{})
	assert.NoError(t, err)
	check.Equal(t, 2, len(all))
	check.Equal(t, "b2", all[0].ID)
	winners := 0
	for _, b := range all {
		if b.IsWinning {
			winners++
		}
	}
	check.Equal(t, 1, winners)

	a, err := db.Auctions().GetByID(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, int64(2), a.Version)
}

func TestAppendWinningFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := New()
	seedAuction(t, db, "a1", domain.AuctionApproved)

	db.FailAppends(errors.New("disk full"))
	check.Error(t, db.Bids().AppendWinning(ctx, bid("b1", "a1", "x", 1100, t0), 0))
	db.FailAppends(nil)

	_, err := db.Bids().Winning(ctx, "a1")
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUpdateStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	db := New()
	seedAuction(t, db, "a1", domain.AuctionPending)
	auctions := db.Auctions()

	assert.NoError(t, auctions.UpdateStatus(ctx, "a1", domain.AuctionPending, domain.AuctionApproved, t0))
	err := auctions.UpdateStatus(ctx, "a1", domain.AuctionPending, domain.AuctionRejected, t0)
	check.True(t, errors.Is(err, domain.ErrInvalidTransition))

	err = auctions.UpdateStatus(ctx, "missing", domain.AuctionPending, domain.AuctionApproved, t0)
	check.True(t, errors.Is(err, domain.ErrNotFound))

	a, _ := auctions.GetByID(ctx, "a1")
	check.Equal(t, domain.AuctionApproved, a.Status)
	check.Equal(t, int64(1), a.Version)
}

func TestListExpiredAndActive(t *testing.T) {
	ctx := context.Background()
	db := New()
	seedAuction(t, db, "open", domain.AuctionApproved)
	seedAuction(t, db, "pending", domain.AuctionPending)

	expired, err := db.Auctions().ListExpired(ctx, t0.Add(time.Hour))
	assert.NoError(t, err)
	check.Equal(t, 1, len(expired))

	expired, err = db.Auctions().ListExpired(ctx, t0.Add(time.Hour-time.Millisecond))
	assert.NoError(t, err)
	check.Equal(t, 0, len(expired))

	active, err := db.Auctions().ListActive(ctx, t0.Add(time.Minute), domain.ListOpts{})
	assert.NoError(t, err)
	check.Equal(t, 1, len(active))
	check.Equal(t, "open", active[0].ID)
}

func TestSettlementCreateOncePerAuction(t *testing.T) {
	ctx := context.Background()
	db := New()
	store := db.Settlements()

	first, created, err := store.Create(ctx, domain.SettlementObligation{
		ID: "s1", AuctionID: "a1", WinnerID: "x", Amount: decimal.NewFromInt(5), Status: domain.SettlementUnpaid, CreatedAt: t0,
	})
	assert.NoError(t, err)
	check.True(t, created)

	again, created, err := store.Create(ctx, domain.SettlementObligation{
		ID: "s2", AuctionID: "a1", WinnerID: "y", Amount: decimal.NewFromInt(9), Status: domain.SettlementUnpaid, CreatedAt: t0,
	})
	assert.NoError(t, err)
	check.False(t, created)
	check.Equal(t, first.ID, again.ID)

	stats, err := store.Stats(ctx)
	assert.NoError(t, err)
	check.Equal(t, domain.SettlementStats{Total: 1, Unpaid: 1}, stats)
}

func TestListUnsettled(t *testing.T) {
	ctx := context.Background()
	db := New()
	seedAuction(t, db, "won", domain.AuctionApproved)
	seedAuction(t, db, "empty", domain.AuctionApproved)
	assert.NoError(t, db.Bids().AppendWinning(ctx, bid("b1", "won", "x", 1100, t0), 0))

	for _, id := range []string{"won", "empty"} {
		a, _ := db.Auctions().GetByID(ctx, id)
		assert.NoError(t, db.Auctions().UpdateStatus(ctx, id, domain.AuctionApproved, domain.AuctionClosed, a.TimeEnd))
	}

	pending, err := db.Settlements().ListUnsettled(ctx)
	assert.NoError(t, err)
	check.Equal(t, 1, len(pending))
	check.Equal(t, "won", pending[0].AuctionID)
	check.Equal(t, "x", pending[0].WinnerID)

	_, _, err = db.Settlements().Create(ctx, domain.SettlementObligation{ID: "s1", AuctionID: "won", WinnerID: "x"})
	assert.NoError(t, err)
	pending, err = db.Settlements().ListUnsettled(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(pending))
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	at := func(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }
	since := t0.Add(2 * time.Minute)

	check.Equal(t, []int{2, 3}, page(items, at, domain.ListOpts{Limit: 2, Offset: 1}))
	check.Equal(t, []int{2, 3, 4, 5}, page(items, at, domain.ListOpts{Since: &since}))
	check.Equal(t, 0, len(page(items, at, domain.ListOpts{Offset: 10})))
}
