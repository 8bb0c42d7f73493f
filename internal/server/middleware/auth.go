package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HeaderSubjectID carries the caller's user id. It is set by the
// authentication proxy in front of this service.
const HeaderSubjectID = "X-Subject-ID"

type ctxKey int

const adminKey ctxKey = iota

// Authenticate returns middleware that recognises the operator API key,
// supplied as a Bearer token or in the X-API-Key header. The key is checked
// against apiKey (constant time) or apiKeyHash (bcrypt). Requests without a
// token pass through unprivileged; a wrong token is rejected. With neither
// apiKey nor apiKeyHash configured every request is treated as admin.
func Authenticate(apiKey, apiKeyHash string) func(http.Handler) http.Handler {
	hash := []byte(apiKeyHash)
	disabled := apiKey == "" && apiKeyHash == ""

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if disabled {
				next.ServeHTTP(w, r.WithContext(withAdmin(r.Context())))
				return
			}

			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !keyMatches(token, apiKey, hash) {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r.WithContext(withAdmin(r.Context())))
		})
	}
}

func keyMatches(token, apiKey string, hash []byte) bool {
	if apiKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1 {
		return true
	}
	if len(hash) > 0 && bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil {
		return true
	}
	return false
}

// RequireAdmin rejects requests that did not present the operator key.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			writeUnauthorized(w, "admin credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminKey, true)
}

// IsAdmin reports whether Authenticate accepted the operator key for ctx.
func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(adminKey).(bool)
	return v
}

// SubjectID returns the caller's user id, or "" when absent.
func SubjectID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderSubjectID))
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
