// Package session provides session persistence for conversation history.
//
// A Session is one client's conversational lifetime, keyed by a
// client-supplied identifier. Its message log is append-only; session
// status and summary fields are mutable. The store treats individual
// reads and appends as atomic at the row level; no multi-row
// transactions are assumed.
package session

import (
	"encoding/json"
	"time"
)

// Session status values.
const (
	StatusActive              = "active"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
)

// Log event types. The wire and storage name for the assistant role is
// "ai", kept for compatibility with existing session_logs rows.
const (
	EventUser = "user"
	EventAI   = "ai"
)

// Sentiment values produced by finalization.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Session represents one conversation session row.
//
// SessionID is the client-supplied lookup key. It is not unique at the
// store level; readers resolve it to the oldest matching row.
type Session struct {
	RowID       int64      `json:"-"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Summary     string     `json:"summary"`
	Topics      string     `json:"topics"`       // serialized JSON array
	Sentiment   string     `json:"sentiment"`
	Metrics     string     `json:"metrics"`      // serialized JSON object
	KeyOutcomes string     `json:"key_outcomes"`
	UserRating  *int       `json:"user_rating,omitempty"`
	RatedAt     *time.Time `json:"rated_at,omitempty"`
}

// TopicsList deserializes the stored topics field. Malformed data yields
// an empty list rather than an error; stored summaries come from model
// output and must never break the read path.
func (s *Session) TopicsList() []string {
	var topics []string
	if err := json.Unmarshal([]byte(s.Topics), &topics); err != nil {
		return []string{}
	}
	return topics
}

// MetricsData deserializes the stored metrics field, tolerating
// malformed data the same way as TopicsList.
func (s *Session) MetricsData() Metrics {
	var m Metrics
	if err := json.Unmarshal([]byte(s.Metrics), &m); err != nil {
		return Metrics{}
	}
	return m
}

// LogEntry is one persisted message in a session's ordered log.
// ID is the ordering key; entries are immutable once written.
type LogEntry struct {
	ID        int64        `json:"id"`
	SessionID string       `json:"session_id"`
	EventType string       `json:"event_type"` // "user" | "ai"
	Message   string       `json:"message"`
	Metadata  *LogMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// LogMetadata annotates an assistant log entry with how the reply was
// produced. ToolUsed is empty when no tool fired.
type LogMetadata struct {
	Intent   string `json:"intent"`
	ToolUsed string `json:"tool_used,omitempty"`
}

// Metrics are computed from the log during finalization, never derived
// from model output.
type Metrics struct {
	TotalMessages  int `json:"total_messages"`
	UserMessages   int `json:"user_messages"`
	AIMessages     int `json:"ai_messages"`
	TotalUserWords int `json:"total_user_words"`
	TotalAIWords   int `json:"total_ai_words"`
}

// Summary is the structured result of finalizing a session.
type Summary struct {
	Summary     string   `json:"summary"`
	Topics      []string `json:"topics"`
	Sentiment   string   `json:"sentiment"`
	KeyOutcomes string   `json:"key_outcomes"`
	Metrics     Metrics  `json:"metrics"`
}
