package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type principalCtxKey struct{}

// Principal returns the authenticated principal stored by Auth, or "" when
// the request is unauthenticated.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalCtxKey{}).(string)
	return p
}

// Auth returns middleware that resolves the caller to a principal. Keys maps
// API keys to principal names; the key arrives either as a Bearer token in
// the Authorization header or in the X-API-Key header. With no keys
// configured authentication is disabled and the caller may claim a principal
// via the X-Principal header (demo mode only).
func Auth(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				principal := strings.TrimSpace(r.Header.Get("X-Principal"))
				next.ServeHTTP(w, r.WithContext(
					context.WithValue(r.Context(), principalCtxKey{}, principal)))
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			principal, ok := lookupKey(keys, token)
			if !ok {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), principalCtxKey{}, principal)))
		})
	}
}

// lookupKey scans all configured keys with constant-time comparison so a
// non-matching key costs the same as a matching one.
func lookupKey(keys map[string]string, token string) (string, bool) {
	var (
		principal string
		found     bool
	)
	for key, p := range keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			principal, found = p, true
		}
	}
	return principal, found
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

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
