package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Ledger defaults applied by NewBidLedger when a field is left zero.
const (
	DefaultMaxRetries   = 5
	DefaultLockWait     = 2 * time.Second
	DefaultRetryBackoff = 10 * time.Millisecond
	DefaultLockTTL      = 5 * time.Second
	DefaultHistoryLimit = 10
)

// LedgerConfig tunes the bid ledger.
type LedgerConfig struct {
	MinIncrement decimal.Decimal
	MaxRetries   int
	LockWait     time.Duration
	RetryBackoff time.Duration
	// LockTTL bounds how long a distributed lock survives a crashed holder.
	LockTTL time.Duration
}

// BidLedger is the only writer of bids. Attempts on one auction are
// serialized by an in-process lock (and optionally a distributed one), and
// every write is guarded by the auction's version so a second process that
// raced past the locks loses and re-validates.
type BidLedger struct {
	auctions  domain.AuctionStore
	bids      domain.BidStore
	publisher domain.EventPublisher
	cache     domain.HighestBidCache
	audit     domain.AuditStore
	dlock     domain.LockManager
	locks     *keyedMutex
	cfg       LedgerConfig
	logger    *slog.Logger
}

// NewBidLedger creates a BidLedger. publisher may be nil.
func NewBidLedger(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	publisher domain.EventPublisher,
	cfg LedgerConfig,
	logger *slog.Logger,
) *BidLedger {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	logger = logger.With(slog.String("component", "bid_ledger"))
	cfg.MinIncrement = domain.RoundMoney(cfg.MinIncrement)
	if !cfg.MinIncrement.IsPositive() {
		logger.Warn("min increment is not positive, using one money unit",
			slog.String("configured", cfg.MinIncrement.String()),
		)
		cfg.MinIncrement = domain.MoneyUnit
	}
	return &BidLedger{
		auctions:  auctions,
		bids:      bids,
		publisher: publisher,
		locks:     newKeyedMutex(),
		cfg:       cfg,
		logger:    logger,
	}
}

// WithLockManager adds a cross-process lock taken after the local one.
func (l *BidLedger) WithLockManager(lm domain.LockManager) *BidLedger {
	l.dlock = lm
	return l
}

// WithHighestBidCache keeps cache current after every accepted bid.
func (l *BidLedger) WithHighestBidCache(c domain.HighestBidCache) *BidLedger {
	l.cache = c
	return l
}

// WithAudit records accepted bids in the audit log.
func (l *BidLedger) WithAudit(a domain.AuditStore) *BidLedger {
	l.audit = a
	return l
}

// MinIncrement returns the configured minimum raise.
func (l *BidLedger) MinIncrement() decimal.Decimal {
	return l.cfg.MinIncrement
}

// TryAcceptBid validates amount against the auction and its current highest
// bid and, if acceptable, records it as the new winner. A refusal is a
// decision, not an error; errors are reserved for lock or retry exhaustion
// (ErrConcurrencyConflict) and store failures (ErrPersistence).
func (l *BidLedger) TryAcceptBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, now time.Time) (domain.BidDecision, error) {
	amount = domain.RoundMoney(amount)

	var decision domain.BidDecision
	err := l.WithAuctionLock(ctx, auctionID, func(ctx context.Context) error {
		d, err := l.acceptLocked(ctx, auctionID, bidderID, amount, now)
		decision = d
		return err
	})
	if err != nil {
		return domain.BidDecision{}, err
	}
	return decision, nil
}

func (l *BidLedger) acceptLocked(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, now time.Time) (domain.BidDecision, error) {
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, l.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
				return domain.BidDecision{}, err
			}
		}

		decision, version, err := l.evaluate(ctx, auctionID, bidderID, amount, now)
		if err != nil {
			return domain.BidDecision{}, err
		}
		if !decision.Accepted {
			l.logger.DebugContext(ctx, "bid rejected",
				slog.String("auction_id", auctionID),
				slog.String("bidder_id", bidderID),
				slog.String("amount", domain.FormatMoney(amount)),
				slog.String("reason", string(decision.Reason)),
			)
			return decision, nil
		}

		bid := domain.Bid{
			ID:        uuid.NewString(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			PlacedAt:  now,
			IsWinning: true,
		}
		err = l.bids.AppendWinning(ctx, bid, version)
		switch {
		case err == nil:
			decision.Bid = bid
			l.afterAccept(context.WithoutCancel(ctx), bid)
			return decision, nil
		case errors.Is(err, domain.ErrVersionConflict):
			l.logger.DebugContext(ctx, "version conflict, retrying",
				slog.String("auction_id", auctionID),
				slog.Int("attempt", attempt+1),
			)
			continue
		case errors.Is(err, domain.ErrNotFound):
			return reject(domain.RejectAuctionNotFound), nil
		default:
			return domain.BidDecision{}, fmt.Errorf("ledger: append bid on %s: %w: %w", auctionID, domain.ErrPersistence, err)
		}
	}

	l.logger.WarnContext(ctx, "retry budget exhausted",
		slog.String("auction_id", auctionID),
		slog.Int("attempts", l.cfg.MaxRetries),
	)
	return domain.BidDecision{}, fmt.Errorf("ledger: auction %s after %d attempts: %w", auctionID, l.cfg.MaxRetries, domain.ErrConcurrencyConflict)
}

// evaluate applies the acceptance rules in order and returns the version the
// decision was based on.
func (l *BidLedger) evaluate(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, now time.Time) (domain.BidDecision, int64, error) {
	a, err := l.auctions.GetByID(ctx, auctionID)
	if errors.Is(err, domain.ErrNotFound) {
		return reject(domain.RejectAuctionNotFound), 0, nil
	}
	if err != nil {
		return domain.BidDecision{}, 0, fmt.Errorf("ledger: load auction %s: %w: %w", auctionID, domain.ErrPersistence, err)
	}

	switch {
	case a.Status != domain.AuctionApproved:
		return reject(domain.RejectAuctionNotOpen), 0, nil
	case now.Before(a.TimeStart):
		return reject(domain.RejectNotStarted), 0, nil
	case now.After(a.TimeEnd):
		return reject(domain.RejectEnded), 0, nil
	case bidderID == a.OwnerID:
		return reject(domain.RejectSelfBid), 0, nil
	}

	current := a.PriceStart
	w, err := l.bids.Winning(ctx, auctionID)
	switch {
	case err == nil:
		current = w.Amount
	case !errors.Is(err, domain.ErrNotFound):
		return domain.BidDecision{}, 0, fmt.Errorf("ledger: load winning bid for %s: %w: %w", auctionID, domain.ErrPersistence, err)
	}

	// A tie never displaces the earlier bidder.
	minNext := current.Add(l.cfg.MinIncrement)
	decision := domain.BidDecision{
		Accepted:       amount.GreaterThan(current) && !amount.LessThan(minNext),
		CurrentHighest: current,
		MinNext:        minNext,
	}
	if !decision.Accepted {
		decision.Reason = domain.RejectTooLow
	}
	return decision, a.Version, nil
}

// afterAccept runs the post-commit side effects. It is called while the
// auction lock is still held so observers see events in acceptance order.
func (l *BidLedger) afterAccept(ctx context.Context, b domain.Bid) {
	l.logger.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", b.AuctionID),
		slog.String("bid_id", b.ID),
		slog.String("bidder_id", b.BidderID),
		slog.String("amount", domain.FormatMoney(b.Amount)),
	)

	if l.publisher != nil {
		for _, evt := range []domain.Event{domain.NewBidAcceptedEvent(b), domain.NewHighestBidChangedEvent(b)} {
			if err := l.publisher.Publish(ctx, b.AuctionID, evt); err != nil {
				l.logger.WarnContext(ctx, "failed to publish event",
					slog.String("auction_id", b.AuctionID),
					slog.String("type", string(evt.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if l.cache != nil {
		if err := l.cache.SetIfHigher(ctx, b.AuctionID, b.Amount); err != nil {
			l.logger.WarnContext(ctx, "failed to update highest bid cache",
				slog.String("auction_id", b.AuctionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if l.audit != nil {
		if err := l.audit.Log(ctx, "bid_accepted", map[string]any{
			"auction_id": b.AuctionID,
			"bid_id":     b.ID,
			"bidder_id":  b.BidderID,
			"amount":     domain.FormatMoney(b.Amount),
		}); err != nil {
			l.logger.WarnContext(ctx, "failed to write audit entry", slog.String("error", err.Error()))
		}
	}
}

// WithAuctionLock runs fn while holding the auction's lock. The wait for the
// lock is bounded by LockWait; running out yields ErrConcurrencyConflict.
func (l *BidLedger) WithAuctionLock(ctx context.Context, auctionID string, fn func(ctx context.Context) error) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.LockWait)
	defer cancel()

	unlock, err := l.locks.Lock(waitCtx, auctionID)
	if err != nil {
		return l.lockErr(ctx, auctionID, err)
	}
	defer unlock()

	if l.dlock != nil {
		release, err := l.acquireDistributed(waitCtx, auctionID)
		if err != nil {
			return l.lockErr(ctx, auctionID, err)
		}
		defer release()
	}

	return fn(ctx)
}

// acquireDistributed polls the lock manager until the lock is free or ctx
// expires.
func (l *BidLedger) acquireDistributed(ctx context.Context, auctionID string) (func(), error) {
	key := "auction:" + auctionID
	for {
		release, err := l.dlock.Acquire(ctx, key, l.cfg.LockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		if err := sleepCtx(ctx, l.cfg.RetryBackoff); err != nil {
			return nil, err
		}
	}
}

func (l *BidLedger) lockErr(ctx context.Context, auctionID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ledger: lock auction %s: %w", auctionID, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		l.logger.WarnContext(ctx, "lock wait exceeded",
			slog.String("auction_id", auctionID),
			slog.Duration("lock_wait", l.cfg.LockWait),
		)
		return fmt.Errorf("ledger: lock auction %s: %w", auctionID, domain.ErrConcurrencyConflict)
	}
	return fmt.Errorf("ledger: lock auction %s: %w", auctionID, err)
}

// HighestBid returns the winning bid, or false when the auction has none.
func (l *BidLedger) HighestBid(ctx context.Context, auctionID string) (domain.Bid, bool, error) {
	b, err := l.bids.Winning(ctx, auctionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Bid{}, false, nil
	}
	if err != nil {
		return domain.Bid{}, false, fmt.Errorf("ledger: highest bid for %s: %w: %w", auctionID, domain.ErrPersistence, err)
	}
	return b, true, nil
}

// CurrentPrice returns the winning amount, or the starting price when the
// auction has no bids.
func (l *BidLedger) CurrentPrice(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	a, err := l.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return decimal.Decimal{}, wrapStoreErr("ledger: current price", err)
	}
	b, ok, err := l.HighestBid(ctx, auctionID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !ok {
		return a.PriceStart, nil
	}
	return b.Amount, nil
}

// History returns up to limit bids on the auction, newest first.
func (l *BidLedger) History(ctx context.Context, auctionID string, limit int) ([]domain.Bid, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if _, err := l.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, wrapStoreErr("ledger: history", err)
	}
	bids, err := l.bids.ListByAuction(ctx, auctionID, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, wrapStoreErr("ledger: history", err)
	}
	return bids, nil
}

// BidsByBidder returns a bidder's bids across auctions, newest first.
func (l *BidLedger) BidsByBidder(ctx context.Context, bidderID string, opts domain.ListOpts) ([]domain.Bid, error) {
	bids, err := l.bids.ListByBidder(ctx, bidderID, opts)
	if err != nil {
		return nil, wrapStoreErr("ledger: bids by bidder", err)
	}
	return bids, nil
}

func reject(reason domain.RejectReason) domain.BidDecision {
	return domain.BidDecision{Reason: reason}
}
