package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AuctionService owns auction creation and status changes.
type AuctionService struct {
	auctions   domain.AuctionStore
	identities domain.IdentityLookup
	audit      domain.AuditStore
	clock      domain.Clock
	logger     *slog.Logger
}

// NewAuctionService creates an AuctionService. audit may be nil.
func NewAuctionService(
	auctions domain.AuctionStore,
	identities domain.IdentityLookup,
	audit domain.AuditStore,
	clock domain.Clock,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		auctions:   auctions,
		identities: identities,
		audit:      audit,
		clock:      clock,
		logger:     logger.With(slog.String("component", "auction_service")),
	}
}

// CreateAuction stores a new pending auction for an active seller or admin.
func (s *AuctionService) CreateAuction(ctx context.Context, p domain.CreateAuctionParams) (domain.Auction, error) {
	if err := validateCreate(p); err != nil {
		return domain.Auction{}, err
	}

	owner, err := s.identities.GetIdentity(ctx, p.OwnerID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Auction{}, fmt.Errorf("auction_service: owner %s: %w", p.OwnerID, domain.ErrInvalidInput)
	}
	if err != nil {
		return domain.Auction{}, wrapStoreErr("auction_service: lookup owner", err)
	}
	if !owner.Active {
		return domain.Auction{}, fmt.Errorf("auction_service: owner %s is inactive: %w", p.OwnerID, domain.ErrUnauthorized)
	}
	if owner.Role == domain.RoleCustomer {
		return domain.Auction{}, fmt.Errorf("auction_service: owner %s may not sell: %w", p.OwnerID, domain.ErrUnauthorized)
	}

	now := s.clock.Now()
	a := domain.Auction{
		ID:          uuid.NewString(),
		OwnerID:     p.OwnerID,
		Name:        strings.TrimSpace(p.Name),
		Description: p.Description,
		ImageURL:    p.ImageURL,
		PriceStart:  domain.RoundMoney(p.PriceStart),
		TimeStart:   p.TimeStart.UTC(),
		TimeEnd:     p.TimeEnd.UTC(),
		Status:      domain.AuctionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, wrapStoreErr("auction_service: create", err)
	}

	s.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("owner_id", a.OwnerID),
		slog.String("price_start", domain.FormatMoney(a.PriceStart)),
	)
	s.auditLog(ctx, "auction_created", map[string]any{
		"auction_id":  a.ID,
		"owner_id":    a.OwnerID,
		"price_start": domain.FormatMoney(a.PriceStart),
		"time_end":    a.TimeEnd,
	})
	return a, nil
}

func validateCreate(p domain.CreateAuctionParams) error {
	var problems []string
	if strings.TrimSpace(p.OwnerID) == "" {
		problems = append(problems, "owner_id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if p.PriceStart.IsNegative() {
		problems = append(problems, "price_start must not be negative")
	}
	if p.TimeStart.IsZero() || p.TimeEnd.IsZero() {
		problems = append(problems, "time_start and time_end are required")
	} else if !p.TimeEnd.After(p.TimeStart) {
		problems = append(problems, "time_end must be after time_start")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// SetStatus moves an auction along its lifecycle. A transition the
// lifecycle does not allow, or one that lost a race with another writer,
// returns ErrInvalidTransition.
func (s *AuctionService) SetStatus(ctx context.Context, auctionID string, to domain.AuctionStatus) (domain.Auction, error) {
	if !to.Valid() {
		return domain.Auction{}, fmt.Errorf("auction_service: status %q: %w", to, domain.ErrInvalidInput)
	}

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, wrapStoreErr("auction_service: set status", err)
	}
	if !a.Status.CanTransitionTo(to) {
		s.logger.WarnContext(ctx, "rejected status transition",
			slog.String("auction_id", auctionID),
			slog.String("from", string(a.Status)),
			slog.String("to", string(to)),
		)
		return domain.Auction{}, fmt.Errorf("auction_service: %s -> %s: %w", a.Status, to, domain.ErrInvalidTransition)
	}

	now := s.clock.Now()
	if err := s.auctions.UpdateStatus(ctx, auctionID, a.Status, to, now); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.WarnContext(ctx, "status changed concurrently",
				slog.String("auction_id", auctionID),
				slog.String("from", string(a.Status)),
				slog.String("to", string(to)),
			)
			return domain.Auction{}, fmt.Errorf("auction_service: %s -> %s: %w", a.Status, to, err)
		}
		return domain.Auction{}, wrapStoreErr("auction_service: set status", err)
	}

	from := a.Status
	a.Status = to
	a.Version++
	a.UpdatedAt = now

	s.logger.InfoContext(ctx, "auction status changed",
		slog.String("auction_id", auctionID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	s.auditLog(ctx, "auction_status_changed", map[string]any{
		"auction_id": auctionID,
		"from":       string(from),
		"to":         string(to),
	})
	return a, nil
}

// Close marks an approved auction closed. Only the expiry sweeper calls it.
func (s *AuctionService) Close(ctx context.Context, auctionID string) (domain.Auction, error) {
	return s.SetStatus(ctx, auctionID, domain.AuctionClosed)
}

// Get returns one auction.
func (s *AuctionService) Get(ctx context.Context, auctionID string) (domain.Auction, error) {
	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, wrapStoreErr("auction_service: get", err)
	}
	return a, nil
}

// ListActive returns approved auctions currently accepting bids.
func (s *AuctionService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	as, err := s.auctions.ListActive(ctx, s.clock.Now(), opts)
	if err != nil {
		return nil, wrapStoreErr("auction_service: list active", err)
	}
	return as, nil
}

// ListByOwner returns a seller's auctions.
func (s *AuctionService) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Auction, error) {
	as, err := s.auctions.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, wrapStoreErr("auction_service: list by owner", err)
	}
	return as, nil
}

func (s *AuctionService) auditLog(ctx context.Context, event string, detail map[string]any) {
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
