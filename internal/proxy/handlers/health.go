package handlers

import "net/http"

// HealthHandler serves GET /health.
func HealthHandler(svc HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Health(r.Context()))
	}
}
