package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pysugar/universal-ai-router/internal/logging"
	"github.com/pysugar/universal-ai-router/internal/router"
)

// Generator runs one generate call.
type Generator interface {
	Generate(ctx context.Context, in router.Inbound) router.Outcome
}

// HealthReporter reports service health.
type HealthReporter interface {
	Health(ctx context.Context) router.HealthResponse
}

// GetOrGenerateRequestID returns the id set by the RequestID middleware, or a new one.
func GetOrGenerateRequestID(r *http.Request) string {
	if id := logging.GetRequestID(r.Context()); id != "" {
		return id
	}
	return logging.GenerateRequestID()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
