package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/realtime"
)

// AuctionSubscriber registers observers of an auction's events.
type AuctionSubscriber interface {
	Subscribe(auctionID string) *realtime.Subscription
}

// BidGateway is the entry point used by the HTTP and websocket layers. It
// checks the caller before handing the bid to the ledger.
type BidGateway struct {
	ledger     *BidLedger
	auctions   domain.AuctionStore
	identities domain.IdentityLookup
	hub        AuctionSubscriber
	clock      domain.Clock
	logger     *slog.Logger

	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
	cache      domain.HighestBidCache

	reads singleflight.Group
}

// NewBidGateway creates a BidGateway.
func NewBidGateway(
	ledger *BidLedger,
	auctions domain.AuctionStore,
	identities domain.IdentityLookup,
	hub AuctionSubscriber,
	clock domain.Clock,
	logger *slog.Logger,
) *BidGateway {
	return &BidGateway{
		ledger:     ledger,
		auctions:   auctions,
		identities: identities,
		hub:        hub,
		clock:      clock,
		logger:     logger.With(slog.String("component", "bid_gateway")),
	}
}

// WithRateLimiter caps each bidder at limit attempts per window.
func (g *BidGateway) WithRateLimiter(rl domain.RateLimiter, limit int, window time.Duration) *BidGateway {
	g.limiter = rl
	g.rateLimit = limit
	g.rateWindow = window
	return g
}

// WithHighestBidCache serves GetHighestBid from c when it has an entry.
func (g *BidGateway) WithHighestBidCache(c domain.HighestBidCache) *BidGateway {
	g.cache = c
	return g
}

// PlaceBid submits a bid on behalf of bidderID.
func (g *BidGateway) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (domain.BidResult, error) {
	amount = domain.RoundMoney(amount)

	who, err := g.identities.GetIdentity(ctx, bidderID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return rejected(amount, domain.RejectUnknownBidder), nil
	case err != nil:
		return domain.BidResult{}, wrapStoreErr("bid_gateway: lookup bidder", err)
	case !who.Active:
		return rejected(amount, domain.RejectBidderInactive), nil
	}

	if !amount.IsPositive() {
		return rejected(amount, domain.RejectInvalidAmount), nil
	}

	if g.limiter != nil && g.rateLimit > 0 {
		ok, err := g.limiter.Allow(ctx, "bid:"+bidderID, g.rateLimit, g.rateWindow)
		if err != nil {
			// Fail open: the limiter protects capacity, not correctness.
			g.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			return rejected(amount, domain.RejectRateLimited), nil
		}
	}

	d, err := g.ledger.TryAcceptBid(ctx, auctionID, bidderID, amount, g.clock.Now())
	if err != nil {
		return domain.BidResult{}, fmt.Errorf("bid_gateway: place bid: %w", err)
	}

	res := domain.BidResult{
		Accepted:       d.Accepted,
		Amount:         amount,
		Reason:         d.Reason,
		CurrentHighest: d.CurrentHighest,
		MinNext:        d.MinNext,
	}
	if d.Accepted {
		res.BidID = d.Bid.ID
	}
	return res, nil
}

func rejected(amount decimal.Decimal, reason domain.RejectReason) domain.BidResult {
	return domain.BidResult{Amount: amount, Reason: reason}
}

// highestLookupTimeout bounds a shared highest-bid lookup once it no longer
// follows any single caller's context.
const highestLookupTimeout = 5 * time.Second

// GetHighestBid returns the winning amount, or the starting price when
// there are no bids. Concurrent reads of one auction share a single lookup,
// which outlives the caller that started it so a cancelled request does not
// fail the others.
func (g *BidGateway) GetHighestBid(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	ch := g.reads.DoChan(auctionID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), highestLookupTimeout)
		defer cancel()
		return g.lookupHighest(lctx, auctionID)
	})

	select {
	case <-ctx.Done():
		return decimal.Decimal{}, fmt.Errorf("bid_gateway: highest bid: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return decimal.Decimal{}, fmt.Errorf("bid_gateway: highest bid: %w", res.Err)
		}
		return res.Val.(decimal.Decimal), nil
	}
}

func (g *BidGateway) lookupHighest(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	if g.cache != nil {
		amt, err := g.cache.Get(ctx, auctionID)
		if err == nil {
			return amt, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			g.logger.WarnContext(ctx, "highest bid cache read failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}

	b, ok, err := g.ledger.HighestBid(ctx, auctionID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !ok {
		return g.ledger.CurrentPrice(ctx, auctionID)
	}
	if g.cache != nil {
		if err := g.cache.SetIfHigher(ctx, auctionID, b.Amount); err != nil {
			g.logger.DebugContext(ctx, "highest bid cache fill failed", slog.String("error", err.Error()))
		}
	}
	return b.Amount, nil
}

// History returns the latest bids on an auction, newest first.
func (g *BidGateway) History(ctx context.Context, auctionID string, limit int) ([]domain.Bid, error) {
	return g.ledger.History(ctx, auctionID, limit)
}

// BidsByBidder returns a bidder's bids, newest first.
func (g *BidGateway) BidsByBidder(ctx context.Context, bidderID string, opts domain.ListOpts) ([]domain.Bid, error) {
	return g.ledger.BidsByBidder(ctx, bidderID, opts)
}

// SubscribeToAuction registers an observer and returns the auction's state
// at the moment of joining. Both happen under the auction lock, so with a
// local hub no bid falls between the snapshot and the first event. Through
// the Redis bridge an event published before the lock was taken can still
// arrive after the snapshot; observers drop bid events that do not exceed
// Snapshot.CurrentHighest.
func (g *BidGateway) SubscribeToAuction(ctx context.Context, auctionID string) (*realtime.Subscription, domain.Snapshot, error) {
	var (
		sub  *realtime.Subscription
		snap domain.Snapshot
	)
	err := g.ledger.WithAuctionLock(ctx, auctionID, func(ctx context.Context) error {
		a, err := g.auctions.GetByID(ctx, auctionID)
		if err != nil {
			return wrapStoreErr("bid_gateway: subscribe", err)
		}
		snap = domain.Snapshot{
			AuctionID:      a.ID,
			Status:         a.Status,
			CurrentHighest: a.PriceStart,
			TimeEnd:        a.TimeEnd,
		}
		b, ok, err := g.ledger.HighestBid(ctx, auctionID)
		if err != nil {
			return err
		}
		if ok {
			snap.CurrentHighest = b.Amount
			snap.HighestBidder = b.BidderID
		}
		sub = g.hub.Subscribe(auctionID)
		return nil
	})
	if err != nil {
		return nil, domain.Snapshot{}, err
	}
	return sub, snap, nil
}
