package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/notify"
)

func TestIssueForAuctionIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first, created, err := f.issuer.IssueForAuction(context.Background(), "a1", "z", money(50000))
	assert.NoError(t, err)
	check.True(t, created)
	check.Equal(t, domain.SettlementUnpaid, first.Status)
	check.Equal(t, money(50000), first.Amount)
	check.Equal(t, t0, first.CreatedAt)

	// A repeat with different figures returns the original untouched.
	again, created, err := f.issuer.IssueForAuction(context.Background(), "a1", "y", money(99999))
	assert.NoError(t, err)
	check.False(t, created)
	check.Equal(t, first, again)

	all, err := f.issuer.List(context.Background(), domain.ListOpts{})
	assert.NoError(t, err)
	check.Equal(t, 1, len(all))

	check.Equal(t, []string{"settlement_issued"}, f.auditEvents(t))
	check.Equal(t, []string{notify.EventSettlementIssued}, f.notifier.sent())
}

func TestSettlementTransitionTable(t *testing.T) {
	statuses := []domain.SettlementStatus{
		domain.SettlementUnpaid, domain.SettlementInTransit, domain.SettlementComplete,
	}
	allowed := map[[2]domain.SettlementStatus]bool{
		{domain.SettlementUnpaid, domain.SettlementInTransit}:   true,
		{domain.SettlementInTransit, domain.SettlementComplete}: true,
		{domain.SettlementInTransit, domain.SettlementUnpaid}:   true,
	}

	f := newFixture(t)
	n := 0
	for _, from := range statuses {
		for _, to := range statuses {
			n++
			o, _, err := f.db.Settlements().Create(context.Background(), domain.SettlementObligation{
				ID:        fmt.Sprintf("s%d", n),
				AuctionID: fmt.Sprintf("a%d", n),
				WinnerID:  "z",
				Amount:    money(50000),
				Status:    from,
			})
			assert.NoError(t, err)

			got, err := f.issuer.TransitionStatus(context.Background(), o.ID, to)
			stored, gerr := f.issuer.Get(context.Background(), o.ID)
			assert.NoError(t, gerr)

			if allowed[[2]domain.SettlementStatus{from, to}] {
				check.NoError(t, err)
				check.Equal(t, to, got.Status)
				check.Equal(t, to, stored.Status)
				check.Equal(t, t0, stored.UpdatedAt)
			} else {
				check.True(t, errors.Is(err, domain.ErrInvalidTransition))
				check.Equal(t, from, stored.Status)
			}
		}
	}
}

func TestTransitionStatusErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.TransitionStatus(context.Background(), "nope", domain.SettlementInTransit)
	check.True(t, errors.Is(err, domain.ErrNotFound))

	o, _, err := f.issuer.IssueForAuction(context.Background(), "a1", "z", money(50000))
	assert.NoError(t, err)
	_, err = f.issuer.TransitionStatus(context.Background(), o.ID, "refunded")
	check.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestSettlementQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _, err := f.issuer.IssueForAuction(ctx, "a1", "z", money(50000))
	assert.NoError(t, err)
	_, _, err = f.issuer.IssueForAuction(ctx, "a2", "z", money(70000))
	assert.NoError(t, err)
	_, _, err = f.issuer.IssueForAuction(ctx, "a3", "y", money(10000))
	assert.NoError(t, err)

	_, err = f.issuer.TransitionStatus(ctx, a.ID, domain.SettlementInTransit)
	assert.NoError(t, err)

	byAuction, err := f.issuer.GetByAuction(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, a.ID, byAuction.ID)
	check.Equal(t, domain.SettlementInTransit, byAuction.Status)

	mine, err := f.issuer.ListByWinner(ctx, "z", domain.ListOpts{})
	assert.NoError(t, err)
	check.Equal(t, 2, len(mine))

	stats, err := f.issuer.Stats(ctx)
	assert.NoError(t, err)
	check.Equal(t, domain.SettlementStats{Total: 3, Unpaid: 2, InTransit: 1}, stats)

	check.Equal(t, []string{
		notify.EventSettlementIssued,
		notify.EventSettlementIssued,
		notify.EventSettlementIssued,
		notify.EventSettlementStatus,
	}, f.notifier.sent())
}
