package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"golang.org/x/crypto/bcrypt"
)

// adminEcho answers 200 with "admin" or "guest".
var adminEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if IsAdmin(r.Context()) {
		io.WriteString(w, "admin")
		return
	}
	io.WriteString(w, "guest")
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestAuthenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	assert.NoError(t, err)
	h := Authenticate("plain-key", string(hash))(adminEcho)

	cases := []struct {
		name   string
		header string
		value  string
		status int
		body   string
	}{
		{"no token", "", "", http.StatusOK, "guest"},
		{"bearer plain", "Authorization", "Bearer plain-key", http.StatusOK, "admin"},
		{"api key header", "X-API-Key", "plain-key", http.StatusOK, "admin"},
		{"bcrypt hash", "X-API-Key", "hashed-key", http.StatusOK, "admin"},
		{"wrong key", "Authorization", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/settlements", nil)
			if tc.header != "" {
				r.Header.Set(tc.header, tc.value)
			}
			rec := serve(h, r)
			check.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				check.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestAuthenticateDisabled(t *testing.T) {
	rec := serve(Authenticate("", "")(adminEcho), httptest.NewRequest(http.MethodGet, "/", nil))
	check.Equal(t, "admin", rec.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	h := Authenticate("k", "")(RequireAdmin(adminEcho))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	check.Equal(t, http.StatusUnauthorized, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "k")
	rec = serve(h, r)
	check.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://bids.example"})(adminEcho)

	r := httptest.NewRequest(http.MethodOptions, "/api/auctions", nil)
	r.Header.Set("Origin", "https://bids.example")
	rec := serve(h, r)
	check.Equal(t, http.StatusNoContent, rec.Code)
	check.Equal(t, "https://bids.example", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/auctions", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec = serve(h, r)
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "", rec.Header().Get("Access-Control-Allow-Origin"))

	check.True(t, OriginAllowed(nil, "https://any.example"))
	check.True(t, OriginAllowed([]string{"*"}, "https://any.example"))
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func (s *stubLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit(t *testing.T) {
	l := &stubLimiter{allow: false}
	h := RateLimit(l, 10, 2*time.Second)(adminEcho)

	r := httptest.NewRequest(http.MethodGet, "/api/auctions/active", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := serve(h, r)
	check.Equal(t, http.StatusTooManyRequests, rec.Code)
	check.Equal(t, "2", rec.Header().Get("Retry-After"))
	check.Equal(t, []string{"api:203.0.113.7"}, l.keys)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	check.Equal(t, http.StatusOK, rec.Code)

	l.err = errors.New("redis down")
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/auctions/active", nil))
	check.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingCapturesStatus(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	check.Equal(t, http.StatusTeapot, rec.Code)
}
