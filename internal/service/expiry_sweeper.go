package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/notify"
)

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = time.Minute

// SweepReport summarises one Tick.
type SweepReport struct {
	Expired   int
	Closed    int
	Failed    int
	Recovered int
	Archived  int
}

// ExpirySweeper closes auctions whose end time has passed and issues the
// winner's settlement. It runs on a single goroutine; auctions are processed
// one at a time.
type ExpirySweeper struct {
	auctions  domain.AuctionStore
	lifecycle *AuctionService
	ledger    *BidLedger
	issuer    *SettlementIssuer
	publisher domain.EventPublisher
	archiver  domain.AuctionArchiver
	notifier  OperatorNotifier
	clock     domain.Clock
	interval  time.Duration
	logger    *slog.Logger
}

// NewExpirySweeper creates an ExpirySweeper. publisher may be nil.
func NewExpirySweeper(
	auctions domain.AuctionStore,
	lifecycle *AuctionService,
	ledger *BidLedger,
	issuer *SettlementIssuer,
	publisher domain.EventPublisher,
	clock domain.Clock,
	interval time.Duration,
	logger *slog.Logger,
) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpirySweeper{
		auctions:  auctions,
		lifecycle: lifecycle,
		ledger:    ledger,
		issuer:    issuer,
		publisher: publisher,
		clock:     clock,
		interval:  interval,
		logger:    logger.With(slog.String("component", "expiry_sweeper")),
	}
}

// WithArchiver copies each closed auction's bids to cold storage.
func (s *ExpirySweeper) WithArchiver(a domain.AuctionArchiver) *ExpirySweeper {
	s.archiver = a
	return s
}

// WithNotifier alerts operators when an auction closes.
func (s *ExpirySweeper) WithNotifier(n OperatorNotifier) *ExpirySweeper {
	s.notifier = n
	return s
}

// Run sweeps once immediately and then every interval until ctx is
// cancelled. Call in a goroutine.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "expiry sweeper started", slog.Duration("interval", s.interval))
	s.tickAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "expiry sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *ExpirySweeper) tickAndLog(ctx context.Context) {
	start := time.Now()
	report, err := s.Tick(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		return
	}
	if report == (SweepReport{}) {
		return
	}
	s.logger.InfoContext(ctx, "sweep finished",
		slog.Int("expired", report.Expired),
		slog.Int("closed", report.Closed),
		slog.Int("failed", report.Failed),
		slog.Int("recovered", report.Recovered),
		slog.Int("archived", report.Archived),
		slog.Duration("took", time.Since(start)),
	)
}

// Tick closes every expired auction, then issues obligations that a crash
// left behind. A failure on one auction is logged and does not stop the
// others. Once ctx is cancelled no further auction is started; the one in
// progress always finishes.
func (s *ExpirySweeper) Tick(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	expired, err := s.auctions.ListExpired(ctx, s.clock.Now())
	if err != nil {
		return report, wrapStoreErr("sweeper: list expired", err)
	}
	report.Expired = len(expired)

	for _, a := range expired {
		if ctx.Err() != nil {
			return report, nil
		}
		closed, err := s.closeAuction(context.WithoutCancel(ctx), a)
		if err != nil {
			report.Failed++
			s.logger.ErrorContext(ctx, "failed to close auction",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Closed++
		if s.archive(context.WithoutCancel(ctx), closed) {
			report.Archived++
		}
	}

	if ctx.Err() != nil {
		return report, nil
	}
	report.Recovered = s.recover(ctx)
	return report, nil
}

// closeAuction closes a under its ledger lock so no bid can land between
// reading the winner and changing the status.
func (s *ExpirySweeper) closeAuction(ctx context.Context, a domain.Auction) (domain.Auction, error) {
	var closed domain.Auction
	err := s.ledger.WithAuctionLock(ctx, a.ID, func(ctx context.Context) error {
		winner, hasWinner, err := s.ledger.HighestBid(ctx, a.ID)
		if err != nil {
			return err
		}

		alreadyClosed := false
		closed, err = s.lifecycle.Close(ctx, a.ID)
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Another sweeper got there first; finish the settlement only.
			current, gerr := s.lifecycle.Get(ctx, a.ID)
			if gerr != nil || current.Status != domain.AuctionClosed {
				return err
			}
			closed, alreadyClosed = current, true
		} else if err != nil {
			return err
		}

		var w *domain.Bid
		if hasWinner {
			w = &winner
			if _, _, err := s.issuer.IssueForAuction(ctx, a.ID, winner.BidderID, winner.Amount); err != nil {
				return fmt.Errorf("issue settlement: %w", err)
			}
		}
		if alreadyClosed {
			return nil
		}

		s.logger.InfoContext(ctx, "auction closed",
			slog.String("auction_id", a.ID),
			slog.Bool("has_winner", hasWinner),
		)
		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, a.ID, domain.NewAuctionClosedEvent(a.ID, w)); err != nil {
				s.logger.WarnContext(ctx, "failed to publish auction_closed",
					slog.String("auction_id", a.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.notifier != nil {
			msg := fmt.Sprintf("Auction %s (%s) closed without bids", a.ID, a.Name)
			if w != nil {
				msg = fmt.Sprintf("Auction %s (%s) closed, won by %s for %s", a.ID, a.Name, w.BidderID, domain.FormatMoney(w.Amount))
			}
			s.notifier.NotifyAsync(ctx, notify.EventAuctionClosed, "Auction closed", msg)
		}
		return nil
	})
	return closed, err
}

func (s *ExpirySweeper) archive(ctx context.Context, a domain.Auction) bool {
	if s.archiver == nil {
		return false
	}
	path, err := s.archiver.ArchiveAuction(ctx, a)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to archive auction",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	s.logger.DebugContext(ctx, "auction archived",
		slog.String("auction_id", a.ID),
		slog.String("path", path),
	)
	return true
}

// recover issues obligations for closed auctions that have a winner but no
// settlement, which happens when a process dies between the two steps.
func (s *ExpirySweeper) recover(ctx context.Context) int {
	pending, err := s.issuer.Unsettled(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "recovery scan failed", slog.String("error", err.Error()))
		return 0
	}

	n := 0
	for _, u := range pending {
		if ctx.Err() != nil {
			break
		}
		_, created, err := s.issuer.IssueForAuction(context.WithoutCancel(ctx), u.AuctionID, u.WinnerID, u.Amount)
		if err != nil {
			s.logger.ErrorContext(ctx, "recovery issuance failed",
				slog.String("auction_id", u.AuctionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			n++
			s.logger.WarnContext(ctx, "recovered missing settlement", slog.String("auction_id", u.AuctionID))
		}
	}
	return n
}
