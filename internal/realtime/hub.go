// Package realtime fans auction events out to observers. Delivery is best
// effort: each subscriber has a bounded buffer and a subscriber that falls
// behind loses events instead of slowing the publisher. There is no replay;
// a new observer starts from a snapshot.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 64

// busPattern matches every auction channel on the signal bus.
const busPattern = "auction:*"

// channelFor is the signal bus channel carrying one auction's events.
func channelFor(auctionID string) string {
	return "auction:" + auctionID
}

// Subscription receives the events of one auction.
type Subscription struct {
	hub       *Hub
	auctionID string
	ch        chan domain.Event
	dropped   atomic.Int64
	closeOnce sync.Once
}

// Events returns the event stream. It is closed by Close or when the hub
// stops.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// AuctionID returns the auction this subscription observes.
func (s *Subscription) AuctionID() string {
	return s.auctionID
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub routes events by auction id. Without a SignalBus it delivers locally
// inside Publish. With one, Publish writes to "auction:{id}" and Run feeds
// local subscribers from a single "auction:*" subscription, so observers on
// every process see every event in publish order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	buffer int
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewHub creates a Hub. bus may be nil for a single-process deployment.
func NewHub(bus domain.SignalBus, buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		bus:    bus,
		logger: logger.With(slog.String("component", "realtime_hub")),
	}
}

// Subscribe registers an observer for auctionID.
func (h *Hub) Subscribe(auctionID string) *Subscription {
	s := &Subscription{
		hub:       h,
		auctionID: auctionID,
		ch:        make(chan domain.Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(s.ch)
		return s
	}
	set, ok := h.subs[auctionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[auctionID] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[s.auctionID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.auctionID)
	}
	s.closeOnce.Do(func() { close(s.ch) })
}

// SubscriberCount returns the number of observers of auctionID.
func (h *Hub) SubscriberCount(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[auctionID])
}

// Publish implements domain.EventPublisher.
func (h *Hub) Publish(ctx context.Context, auctionID string, evt domain.Event) error {
	if evt.AuctionID == "" {
		evt.AuctionID = auctionID
	}
	if h.bus == nil {
		h.deliver(evt)
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s event: %w", evt.Type, err)
	}
	if err := h.bus.Publish(ctx, channelFor(auctionID), data); err != nil {
		return fmt.Errorf("realtime: publish %s event: %w", evt.Type, err)
	}
	return nil
}

// deliver hands evt to every subscriber of its auction without blocking.
func (h *Hub) deliver(evt domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[evt.AuctionID] {
		select {
		case s.ch <- evt:
		default:
			n := s.dropped.Add(1)
			h.logger.Warn("dropping event for slow subscriber",
				slog.String("auction_id", evt.AuctionID),
				slog.String("type", string(evt.Type)),
				slog.Int64("dropped", n),
			)
		}
	}
}

// Run pumps bus messages into local delivery until ctx is cancelled, then
// closes every subscription. Without a bus it only waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	if h.bus == nil {
		<-ctx.Done()
		return nil
	}

	msgs, err := h.bus.Subscribe(ctx, busPattern)
	if err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", busPattern, err)
	}
	h.logger.Info("bridged to signal bus", slog.String("pattern", busPattern))

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("realtime: signal bus subscription closed")
			}
			var evt domain.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				h.logger.Warn("discarding malformed bus message", slog.String("error", err.Error()))
				continue
			}
			h.deliver(evt)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, set := range h.subs {
		for s := range set {
			s.closeOnce.Do(func() { close(s.ch) })
		}
		delete(h.subs, id)
	}
}

var _ domain.EventPublisher = (*Hub)(nil)
