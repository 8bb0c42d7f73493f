// Package memory implements the domain store interfaces in process memory.
// It backs local development (store.driver = "memory") and the service
// tests. All stores created from one DB share a single lock, so operations
// that span tables, such as AppendWinning, are atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// DB holds every table.
type DB struct {
	mu sync.RWMutex

	auctions    map[string]domain.Auction
	bids        []domain.Bid // append order
	settlements map[string]domain.SettlementObligation
	audit       []domain.AuditEntry
	identities  map[string]domain.Identity

	// failAppend, when set, is returned by the next AppendWinning calls.
	failAppend error
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		auctions:    make(map[string]domain.Auction),
		settlements: make(map[string]domain.SettlementObligation),
		identities:  make(map[string]domain.Identity),
	}
}

// Auctions returns the auction table as a domain.AuctionStore.
func (db *DB) Auctions() *AuctionStore { return &AuctionStore{db: db} }

// Bids returns the bid table as a domain.BidStore.
func (db *DB) Bids() *BidStore { return &BidStore{db: db} }

// Settlements returns the settlement table as a domain.SettlementStore.
func (db *DB) Settlements() *SettlementStore { return &SettlementStore{db: db} }

// Audit returns the audit log as a domain.AuditStore.
func (db *DB) Audit() *AuditStore { return &AuditStore{db: db} }

// Identities returns the identity directory.
func (db *DB) Identities() *IdentityDirectory { return &IdentityDirectory{db: db} }

// FailAppends makes AppendWinning return err until called again with nil.
// It lets tests exercise persistence failures.
func (db *DB) FailAppends(err error) {
	db.mu.Lock()
	db.failAppend = err
	db.mu.Unlock()
}

// page applies the time window and pagination of opts to items, which must
// already be in the desired order.
func page[T any](items []T, at func(T) time.Time, opts domain.ListOpts) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		ts := at(it)
		if opts.Since != nil && ts.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ts.After(*opts.Until) {
			continue
		}
		out = append(out, it)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// ---------------------------------------------------------------------------
// Auctions
// ---------------------------------------------------------------------------

// AuctionStore implements domain.AuctionStore.
type AuctionStore struct{ db *DB }

// Create inserts a new auction.
func (s *AuctionStore) Create(_ context.Context, a domain.Auction) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.auctions[a.ID]; ok {
		return fmt.Errorf("memory: create auction %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	s.db.auctions[a.ID] = a
	return nil
}

// GetByID retrieves a single auction by ID.
func (s *AuctionStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	a, ok := s.db.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

// UpdateStatus performs a conditional status change.
func (s *AuctionStore) UpdateStatus(_ context.Context, id string, from, to domain.AuctionStatus, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	a, ok := s.db.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Status != from {
		return fmt.Errorf("memory: auction %s is %s, not %s: %w", id, a.Status, from, domain.ErrInvalidTransition)
	}
	a.Status = to
	a.Version++
	a.UpdatedAt = at
	s.db.auctions[id] = a
	return nil
}

func (s *AuctionStore) filter(keep func(domain.Auction) bool) []domain.Auction {
	var out []domain.Auction
	for _, a := range s.db.auctions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// ListExpired returns approved auctions whose end time has passed.
func (s *AuctionStore) ListExpired(_ context.Context, now time.Time) ([]domain.Auction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := s.filter(func(a domain.Auction) bool { return a.ExpiredAt(now) })
	sortByEnd(out)
	return out, nil
}

// ListActive returns approved auctions open at now, ending soonest first.
func (s *AuctionStore) ListActive(_ context.Context, now time.Time, opts domain.ListOpts) ([]domain.Auction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := s.filter(func(a domain.Auction) bool {
		return a.Status == domain.AuctionApproved && a.OpenAt(now)
	})
	sortByEnd(out)
	return page(out, func(a domain.Auction) time.Time { return a.CreatedAt }, opts), nil
}

// ListByOwner returns an owner's auctions, newest first.
func (s *AuctionStore) ListByOwner(_ context.Context, ownerID string, opts domain.ListOpts) ([]domain.Auction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := s.filter(func(a domain.Auction) bool { return a.OwnerID == ownerID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, func(a domain.Auction) time.Time { return a.CreatedAt }, opts), nil
}

func sortByEnd(as []domain.Auction) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].TimeEnd.Equal(as[j].TimeEnd) {
			return as[i].TimeEnd.Before(as[j].TimeEnd)
		}
		return as[i].ID < as[j].ID
	})
}

// ---------------------------------------------------------------------------
// Bids
// ---------------------------------------------------------------------------

// BidStore implements domain.BidStore.
type BidStore struct{ db *DB }

// Winning returns the current winning bid of an auction.
func (s *BidStore) Winning(_ context.Context, auctionID string) (domain.Bid, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	for i := len(s.db.bids) - 1; i >= 0; i-- {
		if b := s.db.bids[i]; b.AuctionID == auctionID && b.IsWinning {
			return b, nil
		}
	}
	return domain.Bid{}, domain.ErrNotFound
}

// AppendWinning checks the auction version, demotes the previous winner,
// appends b as the winner and bumps the version, all under the DB lock.
func (s *BidStore) AppendWinning(_ context.Context, b domain.Bid, expectedVersion int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if s.db.failAppend != nil {
		return fmt.Errorf("memory: append bid %s: %w", b.ID, s.db.failAppend)
	}

	a, ok := s.db.auctions[b.AuctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Version != expectedVersion {
		return fmt.Errorf("memory: auction %s at version %d, expected %d: %w",
			b.AuctionID, a.Version, expectedVersion, domain.ErrVersionConflict)
	}

	for i := range s.db.bids {
		if s.db.bids[i].AuctionID == b.AuctionID {
			s.db.bids[i].IsWinning = false
		}
	}
	b.IsWinning = true
	s.db.bids = append(s.db.bids, b)

	a.Version++
	a.UpdatedAt = b.PlacedAt
	s.db.auctions[a.ID] = a
	return nil
}

func (s *BidStore) newestFirst(keep func(domain.Bid) bool, opts domain.ListOpts) []domain.Bid {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.Bid
	for i := len(s.db.bids) - 1; i >= 0; i-- {
		if keep(s.db.bids[i]) {
			out = append(out, s.db.bids[i])
		}
	}
	return page(out, func(b domain.Bid) time.Time { return b.PlacedAt }, opts)
}

// ListByAuction returns an auction's bids, newest first.
func (s *BidStore) ListByAuction(_ context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	return s.newestFirst(func(b domain.Bid) bool { return b.AuctionID == auctionID }, opts), nil
}

// ListByBidder returns a bidder's bids across auctions, newest first.
func (s *BidStore) ListByBidder(_ context.Context, bidderID string, opts domain.ListOpts) ([]domain.Bid, error) {
	return s.newestFirst(func(b domain.Bid) bool { return b.BidderID == bidderID }, opts), nil
}

// ---------------------------------------------------------------------------
// Settlements
// ---------------------------------------------------------------------------

// SettlementStore implements domain.SettlementStore.
type SettlementStore struct{ db *DB }

// Create inserts o unless the auction already has an obligation.
func (s *SettlementStore) Create(_ context.Context, o domain.SettlementObligation) (domain.SettlementObligation, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, existing := range s.db.settlements {
		if existing.AuctionID == o.AuctionID {
			return existing, false, nil
		}
	}
	if _, ok := s.db.settlements[o.ID]; ok {
		return domain.SettlementObligation{}, false,
			fmt.Errorf("memory: create settlement %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	s.db.settlements[o.ID] = o
	return o, true, nil
}

// GetByID retrieves a single obligation by ID.
func (s *SettlementStore) GetByID(_ context.Context, id string) (domain.SettlementObligation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	o, ok := s.db.settlements[id]
	if !ok {
		return domain.SettlementObligation{}, domain.ErrNotFound
	}
	return o, nil
}

// GetByAuction retrieves the obligation issued for an auction.
func (s *SettlementStore) GetByAuction(_ context.Context, auctionID string) (domain.SettlementObligation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	for _, o := range s.db.settlements {
		if o.AuctionID == auctionID {
			return o, nil
		}
	}
	return domain.SettlementObligation{}, domain.ErrNotFound
}

// UpdateStatus performs a conditional status change.
func (s *SettlementStore) UpdateStatus(_ context.Context, id string, from, to domain.SettlementStatus, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	o, ok := s.db.settlements[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != from {
		return fmt.Errorf("memory: settlement %s is %s, not %s: %w", id, o.Status, from, domain.ErrInvalidTransition)
	}
	o.Status = to
	o.UpdatedAt = at
	s.db.settlements[id] = o
	return nil
}

func (s *SettlementStore) sorted(keep func(domain.SettlementObligation) bool, opts domain.ListOpts) []domain.SettlementObligation {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.SettlementObligation
	for _, o := range s.db.settlements {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, func(o domain.SettlementObligation) time.Time { return o.CreatedAt }, opts)
}

// List returns obligations, newest first.
func (s *SettlementStore) List(_ context.Context, opts domain.ListOpts) ([]domain.SettlementObligation, error) {
	return s.sorted(func(domain.SettlementObligation) bool { return true }, opts), nil
}

// ListByWinner returns the obligations a winner owes, newest first.
func (s *SettlementStore) ListByWinner(_ context.Context, winnerID string, opts domain.ListOpts) ([]domain.SettlementObligation, error) {
	return s.sorted(func(o domain.SettlementObligation) bool { return o.WinnerID == winnerID }, opts), nil
}

// Stats counts obligations per status.
func (s *SettlementStore) Stats(_ context.Context) (domain.SettlementStats, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var st domain.SettlementStats
	for _, o := range s.db.settlements {
		st.Total++
		switch o.Status {
		case domain.SettlementUnpaid:
			st.Unpaid++
		case domain.SettlementInTransit:
			st.InTransit++
		case domain.SettlementComplete:
			st.Complete++
		}
	}
	return st, nil
}

// ListUnsettled returns closed auctions that have a winning bid but no
// obligation yet.
func (s *SettlementStore) ListUnsettled(_ context.Context) ([]domain.UnsettledAuction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	settled := make(map[string]bool, len(s.db.settlements))
	for _, o := range s.db.settlements {
		settled[o.AuctionID] = true
	}

	var closed []domain.Auction
	for _, a := range s.db.auctions {
		if a.Status == domain.AuctionClosed && !settled[a.ID] {
			closed = append(closed, a)
		}
	}
	sortByEnd(closed)

	var out []domain.UnsettledAuction
	for _, a := range closed {
		for _, b := range s.db.bids {
			if b.AuctionID == a.ID && b.IsWinning {
				out = append(out, domain.UnsettledAuction{AuctionID: a.ID, WinnerID: b.BidderID, Amount: b.Amount})
				break
			}
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditStore implements domain.AuditStore.
type AuditStore struct{ db *DB }

// Log appends a lifecycle entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        int64(len(s.db.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]domain.AuditEntry, 0, len(s.db.audit))
	for i := len(s.db.audit) - 1; i >= 0; i-- {
		out = append(out, s.db.audit[i])
	}
	return page(out, func(e domain.AuditEntry) time.Time { return e.CreatedAt }, opts), nil
}

// ---------------------------------------------------------------------------
// Identities
// ---------------------------------------------------------------------------

// IdentityDirectory implements domain.IdentityLookup over an in-memory
// directory.
type IdentityDirectory struct{ db *DB }

// Put adds or replaces an identity.
func (d *IdentityDirectory) Put(id domain.Identity) {
	d.db.mu.Lock()
	d.db.identities[id.SubjectID] = id
	d.db.mu.Unlock()
}

// GetIdentity resolves a subject id.
func (d *IdentityDirectory) GetIdentity(_ context.Context, subjectID string) (domain.Identity, error) {
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()

	id, ok := d.db.identities[subjectID]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return id, nil
}
