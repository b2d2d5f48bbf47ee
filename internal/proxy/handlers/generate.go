package handlers

import (
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/pysugar/universal-ai-router/internal/router"
)

// GenerateHandler serves POST / and POST /v1/generate. Bodies are read up to
// maxBody+1 bytes so the validator can reject oversized payloads itself.
func GenerateHandler(svc Generator, maxBody int64, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := GetOrGenerateRequestID(r)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			logger.WithFields(logrus.Fields{
				"event":      "body_read_failed",
				"request_id": requestID,
			}).WithError(err).Warn("Failed to read request body")
			writeJSON(w, http.StatusBadRequest, router.FailureResponse{
				Error:     "failed to read request body",
				ErrorType: router.ErrorTypeValidation,
				Metadata:  router.Metadata{RequestID: requestID},
			})
			return
		}

		out := svc.Generate(r.Context(), router.Inbound{
			Body:       body,
			RemoteAddr: r.RemoteAddr,
			RequestID:  requestID,
		})

		h := w.Header()
		h.Set("X-Request-ID", out.RequestID)
		if out.Remaining >= 0 {
			h.Set("X-RateLimit-Remaining", strconv.Itoa(out.Remaining))
		}
		if out.RetryAfter > 0 {
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(out.RetryAfter.Seconds()))))
		}
		writeJSON(w, out.Status, out.Body)
	}
}
