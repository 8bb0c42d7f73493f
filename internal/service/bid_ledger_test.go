package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

func TestZeroIncrementNeverAcceptsTie(t *testing.T) {
	f := newFixtureWith(t, LedgerConfig{MinIncrement: money(0), LockWait: 5 * time.Second})
	a := f.seedAuction(t, nil)
	check.Equal(t, domain.MoneyUnit, f.ledger.MinIncrement())

	d := f.bid(t, a.ID, "x", 100000)
	check.False(t, d.Accepted)
	check.Equal(t, domain.RejectTooLow, d.Reason)

	d = f.bid(t, a.ID, "x", 101000)
	assert.True(t, d.Accepted)

	d = f.bid(t, a.ID, "y", 101000)
	check.False(t, d.Accepted)
	check.Equal(t, domain.RejectTooLow, d.Reason)

	highest, ok, err := f.ledger.HighestBid(context.Background(), a.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	check.Equal(t, "x", highest.BidderID)
}

func TestSubCentIncrementRoundsUpToOneUnit(t *testing.T) {
	f := newFixtureWith(t, LedgerConfig{MinIncrement: decimal.RequireFromString("0.001"), LockWait: 5 * time.Second})
	a := f.seedAuction(t, nil)

	d := f.bid(t, a.ID, "x", 100000)
	check.False(t, d.Accepted)
	check.Equal(t, decimal.RequireFromString("100000.01"), d.MinNext)
}

func TestIncrementScenario(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)

	d := f.bid(t, a.ID, "x", 100000)
	check.False(t, d.Accepted)
	check.Equal(t, domain.RejectTooLow, d.Reason)
	check.Equal(t, money(101000), d.MinNext)

	d = f.bid(t, a.ID, "x", 101000)
	assert.True(t, d.Accepted)
	first := d.Bid

	d = f.bid(t, a.ID, "y", 101000)
	check.False(t, d.Accepted)
	check.Equal(t, domain.RejectTooLow, d.Reason)
	check.Equal(t, money(101000), d.CurrentHighest)
	check.Equal(t, money(102000), d.MinNext)

	d = f.bid(t, a.ID, "y", 102500)
	assert.True(t, d.Accepted)

	highest, ok, err := f.ledger.HighestBid(context.Background(), a.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	check.Equal(t, "y", highest.BidderID)
	check.Equal(t, money(102500), highest.Amount)

	history, err := f.ledger.History(context.Background(), a.ID, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(history))
	check.Equal(t, highest.ID, history[0].ID)
	check.True(t, history[0].IsWinning)
	check.Equal(t, first.ID, history[1].ID)
	check.False(t, history[1].IsWinning)
}

func TestRejectionReasonsInOrder(t *testing.T) {
	f := newFixture(t)
	open := f.seedAuction(t, nil)
	pending := f.seedAuction(t, func(a *domain.Auction) { a.Status = domain.AuctionPending })
	future := f.seedAuction(t, func(a *domain.Auction) { a.TimeStart = t0.Add(time.Minute) })
	past := f.seedAuction(t, func(a *domain.Auction) { a.TimeEnd = t0.Add(-time.Millisecond) })

	cases := []struct {
		name      string
		auctionID string
		bidderID  string
		amount    int64
		want      domain.RejectReason
	}{
		{"missing auction", "nope", "x", 200000, domain.RejectAuctionNotFound},
		{"pending auction", pending.ID, "x", 200000, domain.RejectAuctionNotOpen},
		// Status is checked before ownership.
		{"pending auction by owner", pending.ID, "seller", 200000, domain.RejectAuctionNotOpen},
		{"not started", future.ID, "x", 200000, domain.RejectNotStarted},
		{"one ms after end", past.ID, "x", 200000, domain.RejectEnded},
		{"owner bids", open.ID, "seller", 200000, domain.RejectSelfBid},
		{"owner bids low", open.ID, "seller", 1, domain.RejectSelfBid},
		{"too low", open.ID, "x", 100999, domain.RejectTooLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := f.bid(t, tc.auctionID, tc.bidderID, tc.amount)
			check.False(t, d.Accepted)
			check.Equal(t, tc.want, d.Reason)
		})
	}

	bids, err := f.db.Bids().ListByBidder(context.Background(), "x", domain.ListOpts{})
	assert.NoError(t, err)
	check.Equal(t, 0, len(bids))
}

func TestBidAtExactEndIsAccepted(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)

	f.clock.Set(a.TimeEnd)
	check.True(t, f.bid(t, a.ID, "x", 101000).Accepted)

	f.clock.Set(a.TimeEnd.Add(time.Millisecond))
	d := f.bid(t, a.ID, "y", 200000)
	check.False(t, d.Accepted)
	check.Equal(t, domain.RejectEnded, d.Reason)
}

func TestConcurrentBidsKeepSingleWinner(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)

	const workers = 64
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			bidder := []string{"x", "y", "z"}[i%3]
			amount := money(101000 + int64(i%8)*1000)
			d, err := f.ledger.TryAcceptBid(context.Background(), a.ID, bidder, amount, t0)
			check.NoError(t, err)
			if d.Accepted {
				accepted.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	bids, err := f.db.Bids().ListByAuction(context.Background(), a.ID, domain.ListOpts{})
	assert.NoError(t, err)
	check.Equal(t, int(accepted.Load()), len(bids))

	winners := 0
	for i, b := range bids {
		if b.IsWinning {
			winners++
			check.Equal(t, 0, i)
		}
		// Newest first: every bid beats its predecessor by the increment.
		if i+1 < len(bids) {
			check.True(t, b.Amount.GreaterThanOrEqual(bids[i+1].Amount.Add(money(1000))))
		}
	}
	check.Equal(t, 1, winners)
	check.Equal(t, money(108000), bids[0].Amount)

	final, err := f.db.Auctions().GetByID(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Equal(t, int64(len(bids)), final.Version)
}

func TestAcceptedBidsPublishInOrder(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)
	sub := f.hub.Subscribe(a.ID)
	defer sub.Close()

	f.bid(t, a.ID, "x", 101000)
	f.bid(t, a.ID, "y", 101500) // rejected, publishes nothing
	f.bid(t, a.ID, "y", 102000)

	var types []domain.EventType
	for _, evt := range drain(sub) {
		types = append(types, evt.Type)
	}
	check.Equal(t, []domain.EventType{
		domain.EventBidAccepted, domain.EventHighestBidChanged,
		domain.EventBidAccepted, domain.EventHighestBidChanged,
	}, types)
	check.Equal(t, []string{"bid_accepted", "bid_accepted"}, f.auditEvents(t))
}

func TestPersistenceFailureLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)
	f.bid(t, a.ID, "x", 101000)

	f.db.FailAppends(errors.New("disk full"))
	_, err := f.ledger.TryAcceptBid(context.Background(), a.ID, "y", money(150000), t0)
	check.True(t, errors.Is(err, domain.ErrPersistence))
	check.False(t, errors.Is(err, domain.ErrConcurrencyConflict))

	highest, _, err := f.ledger.HighestBid(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Equal(t, "x", highest.BidderID)
	check.Equal(t, money(101000), highest.Amount)

	f.db.FailAppends(nil)
	check.True(t, f.bid(t, a.ID, "y", 150000).Accepted)
}

// conflictingBids fails the first n AppendWinning calls with a version
// conflict, as if another process had written in between.
type conflictingBids struct {
	domain.BidStore
	n     atomic.Int64
	calls atomic.Int64
}

func (c *conflictingBids) AppendWinning(ctx context.Context, b domain.Bid, v int64) error {
	c.calls.Add(1)
	if c.n.Add(-1) >= 0 {
		return domain.ErrVersionConflict
	}
	return c.BidStore.AppendWinning(ctx, b, v)
}

func TestVersionConflictRetries(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)

	bids := &conflictingBids{BidStore: f.db.Bids()}
	bids.n.Store(2)
	ledger := NewBidLedger(f.db.Auctions(), bids, nil, LedgerConfig{
		MinIncrement: money(1000),
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, testLogger())

	d, err := ledger.TryAcceptBid(context.Background(), a.ID, "x", money(101000), t0)
	assert.NoError(t, err)
	check.True(t, d.Accepted)
	check.Equal(t, int64(3), bids.calls.Load())
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)

	bids := &conflictingBids{BidStore: f.db.Bids()}
	bids.n.Store(100)
	ledger := NewBidLedger(f.db.Auctions(), bids, nil, LedgerConfig{
		MinIncrement: money(1000),
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, testLogger())

	_, err := ledger.TryAcceptBid(context.Background(), a.ID, "x", money(101000), t0)
	check.True(t, errors.Is(err, domain.ErrConcurrencyConflict))
	check.Equal(t, int64(3), bids.calls.Load())

	_, ok, err := f.ledger.HighestBid(context.Background(), a.ID)
	assert.NoError(t, err)
	check.False(t, ok)
}

func TestLockWaitIsBounded(t *testing.T) {
	f := newFixtureWith(t, LedgerConfig{MinIncrement: money(1000), LockWait: 20 * time.Millisecond})
	a := f.seedAuction(t, nil)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.ledger.WithAuctionLock(context.Background(), a.ID, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	started := time.Now()
	_, err := f.ledger.TryAcceptBid(context.Background(), a.ID, "x", money(101000), t0)
	check.True(t, errors.Is(err, domain.ErrConcurrencyConflict))
	check.True(t, time.Since(started) < time.Second)

	// Other auctions are unaffected.
	other := f.seedAuction(t, nil)
	check.True(t, f.bid(t, other.ID, "x", 101000).Accepted)

	close(release)
}

func TestCallerCancellationIsNotAConflict(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ledger.TryAcceptBid(ctx, a.ID, "x", money(101000), t0)
	check.True(t, errors.Is(err, context.Canceled))
	check.False(t, errors.Is(err, domain.ErrConcurrencyConflict))
}

// busyLock reports the lock as held for the first n attempts.
type busyLock struct {
	n        atomic.Int64
	attempts atomic.Int64
	released atomic.Int64
}

func (b *busyLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	b.attempts.Add(1)
	if b.n.Add(-1) >= 0 {
		return nil, domain.ErrLockHeld
	}
	return func() { b.released.Add(1) }, nil
}

func TestDistributedLockIsPolled(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)

	lock := &busyLock{}
	lock.n.Store(2)
	f.ledger.WithLockManager(lock)

	check.True(t, f.bid(t, a.ID, "x", 101000).Accepted)
	check.Equal(t, int64(3), lock.attempts.Load())
	check.Equal(t, int64(1), lock.released.Load())
}

func TestDistributedLockTimeout(t *testing.T) {
	f := newFixtureWith(t, LedgerConfig{
		MinIncrement: money(1000),
		LockWait:     30 * time.Millisecond,
		RetryBackoff: 5 * time.Millisecond,
	})
	a := f.seedAuction(t, nil)

	lock := &busyLock{}
	lock.n.Store(1 << 30)
	f.ledger.WithLockManager(lock)

	_, err := f.ledger.TryAcceptBid(context.Background(), a.ID, "x", money(101000), t0)
	check.True(t, errors.Is(err, domain.ErrConcurrencyConflict))
}

func TestCurrentPriceAndHistoryLimit(t *testing.T) {
	f := newFixture(t)
	a := f.seedAuction(t, nil)

	price, err := f.ledger.CurrentPrice(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Equal(t, money(100000), price)

	for i := int64(1); i <= 12; i++ {
		check.True(t, f.bid(t, a.ID, []string{"x", "y"}[i%2], 100000+i*1000).Accepted)
	}

	price, err = f.ledger.CurrentPrice(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Equal(t, money(112000), price)

	history, err := f.ledger.History(context.Background(), a.ID, 0)
	assert.NoError(t, err)
	check.Equal(t, DefaultHistoryLimit, len(history))
	check.Equal(t, money(112000), history[0].Amount)

	_, err = f.ledger.History(context.Background(), "nope", 5)
	check.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.ledger.CurrentPrice(context.Background(), "nope")
	check.True(t, errors.Is(err, domain.ErrNotFound))
}
