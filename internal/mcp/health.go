package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Chunks    int    `json:"chunks"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker interface defines the health check dependency.
// Server implements this over its loaded index.
type HealthChecker interface {
	Health(ctx context.Context) error
	Chunks() int
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It reports 200 when a non-empty index is loaded and 503 otherwise.
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		err := checker.Health(ctx)

		response := HealthResponse{
			Chunks:    checker.Chunks(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")

		if err != nil {
			response.Status = "unhealthy"
			response.Index = "not_loaded"
			w.WriteHeader(http.StatusServiceUnavailable) // 503
			json.NewEncoder(w).Encode(response)
			return
		}

		response.Status = "healthy"
		response.Index = "loaded"
		w.WriteHeader(http.StatusOK) // 200
		json.NewEncoder(w).Encode(response)
	}
}
