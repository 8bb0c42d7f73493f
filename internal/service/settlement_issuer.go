package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/notify"
)

// OperatorNotifier delivers operator alerts without blocking the caller.
type OperatorNotifier interface {
	NotifyAsync(ctx context.Context, event, title, message string)
}

// SettlementIssuer creates and advances settlement obligations.
type SettlementIssuer struct {
	store    domain.SettlementStore
	audit    domain.AuditStore
	notifier OperatorNotifier
	clock    domain.Clock
	logger   *slog.Logger
}

// NewSettlementIssuer creates a SettlementIssuer. audit and notifier may be
// nil.
func NewSettlementIssuer(
	store domain.SettlementStore,
	audit domain.AuditStore,
	notifier OperatorNotifier,
	clock domain.Clock,
	logger *slog.Logger,
) *SettlementIssuer {
	return &SettlementIssuer{
		store:    store,
		audit:    audit,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With(slog.String("component", "settlement_issuer")),
	}
}

// IssueForAuction returns the auction's obligation, creating an unpaid one
// for winnerID and amount if none exists. created reports whether this call
// inserted it. Calling it again for the same auction is harmless.
func (s *SettlementIssuer) IssueForAuction(ctx context.Context, auctionID, winnerID string, amount decimal.Decimal) (o domain.SettlementObligation, created bool, err error) {
	existing, err := s.store.GetByAuction(ctx, auctionID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.SettlementObligation{}, false, wrapStoreErr("settlement_issuer: lookup", err)
	}

	now := s.clock.Now()
	stored, created, err := s.store.Create(ctx, domain.SettlementObligation{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		WinnerID:  winnerID,
		Amount:    domain.RoundMoney(amount),
		Status:    domain.SettlementUnpaid,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.SettlementObligation{}, false, wrapStoreErr("settlement_issuer: create", err)
	}
	if !created {
		return stored, false, nil
	}

	s.logger.InfoContext(ctx, "settlement issued",
		slog.String("settlement_id", stored.ID),
		slog.String("auction_id", auctionID),
		slog.String("winner_id", winnerID),
		slog.String("amount", domain.FormatMoney(stored.Amount)),
	)
	s.auditLog(ctx, "settlement_issued", map[string]any{
		"settlement_id": stored.ID,
		"auction_id":    auctionID,
		"winner_id":     winnerID,
		"amount":        domain.FormatMoney(stored.Amount),
	})
	if s.notifier != nil {
		s.notifier.NotifyAsync(ctx, notify.EventSettlementIssued,
			"Settlement issued",
			fmt.Sprintf("Auction %s won by %s for %s", auctionID, winnerID, domain.FormatMoney(stored.Amount)),
		)
	}
	return stored, true, nil
}

// TransitionStatus advances an obligation's payment status.
func (s *SettlementIssuer) TransitionStatus(ctx context.Context, id string, to domain.SettlementStatus) (domain.SettlementObligation, error) {
	if !to.Valid() {
		return domain.SettlementObligation{}, fmt.Errorf("settlement_issuer: status %q: %w", to, domain.ErrInvalidInput)
	}

	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.SettlementObligation{}, wrapStoreErr("settlement_issuer: transition", err)
	}
	if !o.Status.CanTransitionTo(to) {
		s.logger.WarnContext(ctx, "rejected settlement transition",
			slog.String("settlement_id", id),
			slog.String("from", string(o.Status)),
			slog.String("to", string(to)),
		)
		return domain.SettlementObligation{}, fmt.Errorf("settlement_issuer: %s -> %s: %w", o.Status, to, domain.ErrInvalidTransition)
	}

	now := s.clock.Now()
	if err := s.store.UpdateStatus(ctx, id, o.Status, to, now); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.WarnContext(ctx, "settlement status changed concurrently", slog.String("settlement_id", id))
			return domain.SettlementObligation{}, fmt.Errorf("settlement_issuer: %s -> %s: %w", o.Status, to, err)
		}
		return domain.SettlementObligation{}, wrapStoreErr("settlement_issuer: transition", err)
	}

	from := o.Status
	o.Status = to
	o.UpdatedAt = now

	s.logger.InfoContext(ctx, "settlement status changed",
		slog.String("settlement_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	s.auditLog(ctx, "settlement_status_changed", map[string]any{
		"settlement_id": id,
		"auction_id":    o.AuctionID,
		"from":          string(from),
		"to":            string(to),
	})
	if s.notifier != nil {
		s.notifier.NotifyAsync(ctx, notify.EventSettlementStatus,
			"Settlement status changed",
			fmt.Sprintf("Settlement %s for auction %s: %s -> %s", id, o.AuctionID, from, to),
		)
	}
	return o, nil
}

// Get returns one obligation.
func (s *SettlementIssuer) Get(ctx context.Context, id string) (domain.SettlementObligation, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.SettlementObligation{}, wrapStoreErr("settlement_issuer: get", err)
	}
	return o, nil
}

// GetByAuction returns the obligation of an auction.
func (s *SettlementIssuer) GetByAuction(ctx context.Context, auctionID string) (domain.SettlementObligation, error) {
	o, err := s.store.GetByAuction(ctx, auctionID)
	if err != nil {
		return domain.SettlementObligation{}, wrapStoreErr("settlement_issuer: get by auction", err)
	}
	return o, nil
}

// ListByWinner returns what a bidder owes, newest first.
func (s *SettlementIssuer) ListByWinner(ctx context.Context, winnerID string, opts domain.ListOpts) ([]domain.SettlementObligation, error) {
	list, err := s.store.ListByWinner(ctx, winnerID, opts)
	if err != nil {
		return nil, wrapStoreErr("settlement_issuer: list by winner", err)
	}
	return list, nil
}

// List returns every obligation, newest first.
func (s *SettlementIssuer) List(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementObligation, error) {
	list, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, wrapStoreErr("settlement_issuer: list", err)
	}
	return list, nil
}

// Stats counts obligations per status.
func (s *SettlementIssuer) Stats(ctx context.Context) (domain.SettlementStats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return domain.SettlementStats{}, wrapStoreErr("settlement_issuer: stats", err)
	}
	return st, nil
}

// Unsettled returns closed auctions that still need an obligation.
func (s *SettlementIssuer) Unsettled(ctx context.Context) ([]domain.UnsettledAuction, error) {
	us, err := s.store.ListUnsettled(ctx)
	if err != nil {
		return nil, wrapStoreErr("settlement_issuer: list unsettled", err)
	}
	return us, nil
}

func (s *SettlementIssuer) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "failed to write audit entry",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
