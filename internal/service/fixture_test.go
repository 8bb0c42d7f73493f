package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/realtime"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func money(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) NotifyAsync(_ context.Context, event, _, _ string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// fixture wires every service over one in-memory DB.
type fixture struct {
	db       *memory.DB
	clock    *fakeClock
	hub      *realtime.Hub
	notifier *recordingNotifier

	ledger    *BidLedger
	lifecycle *AuctionService
	issuer    *SettlementIssuer
	sweeper   *ExpirySweeper
	gateway   *BidGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, LedgerConfig{MinIncrement: money(1000), LockWait: 5 * time.Second})
}

func newFixtureWith(t *testing.T, cfg LedgerConfig) *fixture {
	t.Helper()

	f := &fixture{
		db:       memory.New(),
		clock:    &fakeClock{now: t0},
		notifier: &recordingNotifier{},
	}
	log := testLogger()
	f.hub = realtime.NewHub(nil, 256, log)

	for _, id := range []domain.Identity{
		{SubjectID: "seller", Name: "Seller", Role: domain.RoleSeller, Active: true},
		{SubjectID: "admin", Name: "Admin", Role: domain.RoleAdmin, Active: true},
		{SubjectID: "x", Name: "X", Role: domain.RoleCustomer, Active: true},
		{SubjectID: "y", Name: "Y", Role: domain.RoleCustomer, Active: true},
		{SubjectID: "z", Name: "Z", Role: domain.RoleCustomer, Active: true},
		{SubjectID: "dormant", Name: "Dormant", Role: domain.RoleCustomer, Active: false},
	} {
		f.db.Identities().Put(id)
	}

	f.ledger = NewBidLedger(f.db.Auctions(), f.db.Bids(), f.hub, cfg, log).WithAudit(f.db.Audit())
	f.lifecycle = NewAuctionService(f.db.Auctions(), f.db.Identities(), f.db.Audit(), f.clock, log)
	f.issuer = NewSettlementIssuer(f.db.Settlements(), f.db.Audit(), f.notifier, f.clock, log)
	f.sweeper = NewExpirySweeper(f.db.Auctions(), f.lifecycle, f.ledger, f.issuer, f.hub, f.clock, time.Hour, log).
		WithNotifier(f.notifier)
	f.gateway = NewBidGateway(f.ledger, f.db.Auctions(), f.db.Identities(), f.hub, f.clock, log)
	return f
}

// seedAuction stores an approved auction owned by "seller" that started an
// hour before t0 and ends an hour after, with a starting price of 100000.
func (f *fixture) seedAuction(t *testing.T, mutate func(a *domain.Auction)) domain.Auction {
	t.Helper()
	a := domain.Auction{
		ID:         uuid.NewString(),
		OwnerID:    "seller",
		Name:       "Lot",
		PriceStart: money(100000),
		TimeStart:  t0.Add(-time.Hour),
		TimeEnd:    t0.Add(time.Hour),
		Status:     domain.AuctionApproved,
		CreatedAt:  t0.Add(-2 * time.Hour),
		UpdatedAt:  t0.Add(-2 * time.Hour),
	}
	if mutate != nil {
		mutate(&a)
	}
	assert.NoError(t, f.db.Auctions().Create(context.Background(), a))
	return a
}

func (f *fixture) bid(t *testing.T, auctionID, bidderID string, amount int64) domain.BidDecision {
	t.Helper()
	d, err := f.ledger.TryAcceptBid(context.Background(), auctionID, bidderID, money(amount), f.clock.Now())
	assert.NoError(t, err)
	return d
}

func (f *fixture) auditEvents(t *testing.T) []string {
	t.Helper()
	entries, err := f.db.Audit().List(context.Background(), domain.ListOpts{})
	assert.NoError(t, err)
	out := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Event)
	}
	return out
}

func drain(s *realtime.Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case evt, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}
