package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventSettlementIssued, " "}, discardLogger())

	assert.NoError(t, n.Notify(context.Background(), EventAuctionClosed, "closed", ""))
	assert.NoError(t, n.Notify(context.Background(), EventSettlementIssued, "issued", ""))
	check.Equal(t, []string{"issued"}, s.sent())
}

func TestNotifyContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventAuctionClosed, "closed", "")
	check.Error(t, err)
	check.Equal(t, []string{"closed"}, good.sent())
}

func TestNotifyAsyncDrainsOnClose(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	n.NotifyAsync(ctx, EventAuctionClosed, "one", "")
	n.NotifyAsync(ctx, EventAuctionClosed, "two", "")
	// Cancelling the caller's context does not abort queued deliveries.
	cancel()
	assert.NoError(t, n.Close())
	check.Equal(t, 2, len(s.sent()))
}

func TestWebhookSignsBody(t *testing.T) {
	secret := "s3cret"
	var gotBody []byte
	var gotTS, gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotTS = r.Header.Get(HeaderWebhookTimestamp)
		gotSig = r.Header.Get(HeaderWebhookSignature)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookSender(srv.URL, secret)
	w.now = func() time.Time { return time.Unix(1767225600, 0) }

	assert.NoError(t, w.Send(context.Background(), "Settlement issued", "auction a1"))
	check.Equal(t, "1767225600", gotTS)
	check.Equal(t, SignWebhook([]byte(secret), gotTS, gotBody), gotSig)

	var p webhookPayload
	assert.NoError(t, json.Unmarshal(gotBody, &p))
	check.Equal(t, "Settlement issued", p.Title)
}

func TestTelegramReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.baseURL = srv.URL
	check.Error(t, tg.Send(context.Background(), "t", "m"))
}
