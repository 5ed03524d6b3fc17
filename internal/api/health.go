package api

import (
	"net/http"
	"time"
)

type healthHandler struct {
	store SessionReader
	model string
}

// health reports process liveness plus the database probe result.
func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "healthy"
	if err := h.store.Ping(r.Context()); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "running",
		"database":  dbStatus,
		"model":     h.model,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
