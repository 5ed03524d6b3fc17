package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/session"
)

// sessions returned by the listing endpoint.
const listSessionsLimit = 50

// summary preview length for listings.
const listSummaryLen = 100

type sessionHandler struct {
	store       SessionReader
	regenerator SummaryRegenerator
	logger      *slog.Logger
}

// getSummary returns the full analysis view of one session.
func (h *sessionHandler) getSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	sess, err := h.store.GetBySessionID(r.Context(), sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   sess.SessionID,
		"status":       sess.Status,
		"start_time":   sess.StartTime,
		"end_time":     sess.EndTime,
		"summary":      sess.Summary,
		"topics":       sess.TopicsList(),
		"sentiment":    sess.Sentiment,
		"metrics":      sess.MetricsData(),
		"key_outcomes": sess.KeyOutcomes,
	})
}

// listSessions returns recent sessions with truncated summary previews.
func (h *sessionHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.RecentSessions(r.Context(), listSessionsLimit)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		var preview any
		if sess.Summary != "" {
			preview = truncateSummary(sess.Summary)
		}
		entries = append(entries, map[string]any{
			"session_id":    sess.SessionID,
			"status":        sess.Status,
			"start_time":    sess.StartTime,
			"end_time":      sess.EndTime,
			"summary":       preview,
			"topics":        sess.TopicsList(),
			"sentiment":     sess.Sentiment,
			"message_count": sess.MetricsData().TotalMessages,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": entries,
		"count":    len(entries),
	})
}

// rate stores a user rating for a session.
func (h *sessionHandler) rate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var body struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.store.SetRating(r.Context(), sessionID, body.Rating, time.Now().UTC())
	switch {
	case errors.Is(err, session.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "Rating must be between 1 and 5")
		return
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
		return
	case err != nil:
		h.logger.Error("failed to save rating", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sessionID,
		"rating":     body.Rating,
		"message":    "Thank you for your feedback!",
	})
}

// regenerateSummary re-runs summarization for an existing session and
// overwrites its summary fields. Status and end time are untouched.
func (h *sessionHandler) regenerateSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	if _, err := h.store.GetBySessionID(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sum, err := h.regenerator.Regenerate(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("summary regeneration failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sessionID,
		"summary":    sum,
	})
}

func truncateSummary(s string) string {
	runes := []rune(s)
	if len(runes) <= listSummaryLen {
		return s
	}
	return string(runes[:listSummaryLen]) + "..."
}
