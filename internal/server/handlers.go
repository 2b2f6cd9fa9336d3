package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Time          string `json:"time"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Stats         any    `json:"stats,omitempty"`
}

// healthHandler returns worker health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:        "healthy",
		Time:          time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.stats != nil {
		response.Stats = s.stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
	}
}
