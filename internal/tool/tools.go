package tool

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/session"
)

// Store is the persistence surface the built-in tools need.
// *session.Store satisfies it.
type Store interface {
	GetBySessionID(ctx context.Context, sessionID string) (*session.Session, error)
	ListLogs(ctx context.Context, sessionID string) ([]session.LogEntry, error)
	RecentSessions(ctx context.Context, limit int) ([]*session.Session, error)
}

// maximum matching messages included in a search result. The match
// count still reflects all matches.
const searchResultLimit = 5

// maximum sessions returned by the listing tool.
const sessionListingLimit = 10

// summary preview length, in characters, for session listings.
const summaryPreviewLen = 100

// statsHandler reports message counts and elapsed duration for the
// current session.
type statsHandler struct {
	store Store
}

func (h *statsHandler) Execute(ctx context.Context, params Params) (Payload, error) {
	sess, err := h.store.GetBySessionID(ctx, params.SessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, errors.New("Session not found")
	}
	if err != nil {
		return nil, err
	}

	logs, err := h.store.ListLogs(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}

	var userCount, aiCount int
	for _, entry := range logs {
		switch entry.EventType {
		case session.EventUser:
			userCount++
		case session.EventAI:
			aiCount++
		}
	}

	var minutes float64
	if !sess.StartTime.IsZero() {
		minutes = time.Since(sess.StartTime).Minutes()
	}

	return Payload{
		"session_id":       params.SessionID,
		"start_time":       sess.StartTime.Format(time.RFC3339),
		"duration_minutes": math.Round(minutes*100) / 100,
		"total_messages":   len(logs),
		"user_messages":    userCount,
		"ai_messages":      aiCount,
		"status":           sess.Status,
	}, nil
}

// searchHandler finds log entries in the current session containing the
// extracted keyword, case-insensitively.
type searchHandler struct {
	store Store
}

func (h *searchHandler) Execute(ctx context.Context, params Params) (Payload, error) {
	logs, err := h.store.ListLogs(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return Payload{
			"found":   false,
			"message": "No messages in this session yet",
		}, nil
	}

	keyword := strings.ToLower(params.Keyword)
	var matches []Payload
	for _, entry := range logs {
		if strings.Contains(strings.ToLower(entry.Message), keyword) {
			matches = append(matches, Payload{
				"type":    entry.EventType,
				"message": entry.Message,
				"id":      entry.ID,
			})
		}
	}

	if len(matches) == 0 {
		return Payload{
			"found":   false,
			"keyword": params.Keyword,
			"message": "No messages found containing '" + params.Keyword + "'",
		}, nil
	}

	shown := matches
	if len(shown) > searchResultLimit {
		shown = shown[:searchResultLimit]
	}
	return Payload{
		"found":    true,
		"keyword":  params.Keyword,
		"matches":  len(matches),
		"messages": shown,
	}, nil
}

// listingHandler returns recent sessions with truncated summaries.
type listingHandler struct {
	store Store
}

func (h *listingHandler) Execute(ctx context.Context, _ Params) (Payload, error) {
	sessions, err := h.store.RecentSessions(ctx, sessionListingLimit)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return Payload{"message": "No previous sessions found"}, nil
	}

	entries := make([]Payload, 0, len(sessions))
	for _, sess := range sessions {
		summary := sess.Summary
		if summary == "" {
			summary = "No summary available"
		}
		entries = append(entries, Payload{
			"session_id": sess.SessionID,
			"start_time": sess.StartTime.Format(time.RFC3339),
			"status":     sess.Status,
			"summary":    truncate(summary, summaryPreviewLen),
		})
	}
	return Payload{
		"total_sessions": len(sessions),
		"sessions":       entries,
	}, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
