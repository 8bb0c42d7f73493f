// Package ws streams auction events to browsers over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/realtime"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message. Clients
	// only listen, so anything larger is a misbehaving peer.
	maxMessageSize = 4096
)

// TypeSnapshot tags the first frame of every connection.
const TypeSnapshot = "snapshot"

// snapshotFrame wraps the join-time state in the same envelope as events.
type snapshotFrame struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id"`
	Payload   domain.Snapshot `json:"payload"`
}

// Subscriber opens an auction subscription together with its current state.
type Subscriber interface {
	SubscribeToAuction(ctx context.Context, auctionID string) (*realtime.Subscription, domain.Snapshot, error)
}

// Handler upgrades requests on /ws/auctions/{id} and relays that auction's
// events as JSON text frames, starting with a snapshot.
type Handler struct {
	subscriber Subscriber
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHandler creates a Handler. allowedOrigins restricts browser origins
// the same way as the REST API's CORS policy.
func NewHandler(subscriber Subscriber, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// HandleAuction serves one observer.
// GET /ws/auctions/{id}
func (h *Handler) HandleAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("id")

	// Subscribe before upgrading so unknown auctions get a plain 404.
	sub, snap, err := h.subscriber.SubscribeToAuction(r.Context(), auctionID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrConcurrencyConflict):
			w.Header().Set("Retry-After", "1")
			status = http.StatusServiceUnavailable
		default:
			h.logger.ErrorContext(r.Context(), "ws: subscribe failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.logger.DebugContext(r.Context(), "ws: observer joined", slog.String("auction_id", auctionID))

	done := make(chan struct{})
	go readPump(conn, done)
	h.writePump(conn, sub, snap, done)

	if n := sub.Dropped(); n > 0 {
		h.logger.InfoContext(r.Context(), "ws: observer left after drops",
			slog.String("auction_id", auctionID),
			slog.Int64("dropped", n),
		)
	}
}

// readPump discards client frames, keeps the read deadline fresh on pongs
// and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// writePump sends the snapshot, then every event, pinging in between. It
// returns when the peer leaves, a write fails or the subscription closes.
func (h *Handler) writePump(conn *websocket.Conn, sub *realtime.Subscription, snap domain.Snapshot, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeFrame(conn, snapshotFrame{Type: TypeSnapshot, AuctionID: snap.AuctionID, Payload: snap}); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				// The hub is shutting down.
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if predatesSnapshot(evt, snap) {
				continue
			}
			if err := writeFrame(conn, evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// predatesSnapshot reports whether evt is a bid event already reflected in
// snap. Accepted amounts only rise, so a bid event at or below the snapshot's
// highest was published before the observer joined. The Redis bridge can
// deliver such events late.
func predatesSnapshot(evt domain.Event, snap domain.Snapshot) bool {
	if evt.Type != domain.EventBidAccepted && evt.Type != domain.EventHighestBidChanged {
		return false
	}
	var p struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return false
	}
	amt, err := domain.ParseMoney(p.Amount)
	if err != nil {
		return false
	}
	return !amt.GreaterThan(snap.CurrentHighest)
}

func writeFrame(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
