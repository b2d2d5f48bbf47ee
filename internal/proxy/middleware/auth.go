package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyAuth requires the gateway key as "Authorization: Bearer <key>" or
// "x-api-key: <key>". An empty expected key disables the check.
func APIKeyAuth(expected string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check Authorization header (Bearer token)
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				if keyMatches(strings.TrimPrefix(authHeader, "Bearer "), expected) {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Check x-api-key header (alternative)
			if keyMatches(r.Header.Get("x-api-key"), expected) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"error":"Invalid API key","errorType":"authentication_error"}`))
		})
	}
}

func keyMatches(got, expected string) bool {
	got = strings.TrimSpace(got)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
