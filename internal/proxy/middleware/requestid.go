package middleware

import (
	"net/http"

	"github.com/pysugar/universal-ai-router/internal/logging"
)

const RequestIDHeader = "X-Request-ID"

// RequestID honours a sane client X-Request-ID or generates one, stores it in
// the request context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logging.SanitizeRequestID(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
