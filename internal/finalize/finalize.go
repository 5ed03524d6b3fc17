// Package finalize turns a finished session's log into a persisted
// analysis: summary text, topics, sentiment, key outcomes and counted
// metrics.
package finalize

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/parleyhq/parley/internal/session"
)

// Store is the persistence surface the finalizer needs.
// *session.Store satisfies it.
type Store interface {
	ListLogs(ctx context.Context, sessionID string) ([]session.LogEntry, error)
	CommitSummary(ctx context.Context, sessionID string, sum session.Summary, endTime time.Time) error
	UpdateSummaryFields(ctx context.Context, sessionID string, sum session.Summary) error
	FinalizeWithErrors(ctx context.Context, sessionID string, endTime time.Time) error
}

// Generator produces a complete model response for a message sequence.
// *engine.Engine satisfies it.
type Generator interface {
	Invoke(ctx context.Context, msgs []*ai.Message) (string, error)
}

// maximum characters of a malformed model response kept as the
// degraded summary text.
const degradedSummaryLen = 200

// Logger matches the slog surface the finalizer uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Finalizer summarizes sessions and commits the result.
type Finalizer struct {
	store  Store
	gen    Generator
	logger Logger
}

func New(store Store, gen Generator, logger Logger) *Finalizer {
	return &Finalizer{store: store, gen: gen, logger: logger}
}

// Finalize summarizes the session and commits a terminal state. It
// never returns without attempting a commit: when summarization or the
// primary commit fails, the session is closed as completed_with_errors
// instead.
func (f *Finalizer) Finalize(ctx context.Context, sessionID string) {
	f.logger.Info("finalizing session", "session_id", sessionID)

	sum, err := f.Summarize(ctx, sessionID)
	if err == nil {
		err = f.store.CommitSummary(ctx, sessionID, sum, time.Now().UTC())
		if err == nil {
			f.logger.Info("session finalized", "session_id", sessionID)
			return
		}
	}

	f.logger.Error("finalization failed, recording error state",
		"session_id", sessionID, "error", err)
	if err := f.store.FinalizeWithErrors(ctx, sessionID, time.Now().UTC()); err != nil {
		f.logger.Error("failed to record error state", "session_id", sessionID, "error", err)
	}
}

// Regenerate recomputes the summary for an existing session and
// overwrites only the summary-derived fields. Status and end time are
// left untouched.
func (f *Finalizer) Regenerate(ctx context.Context, sessionID string) (session.Summary, error) {
	sum, err := f.Summarize(ctx, sessionID)
	if err != nil {
		return session.Summary{}, err
	}
	if err := f.store.UpdateSummaryFields(ctx, sessionID, sum); err != nil {
		return session.Summary{}, err
	}
	return sum, nil
}

// Summarize analyzes the session's full log. Metrics are counted
// locally and never depend on the model; a malformed model response
// degrades to placeholder analysis fields rather than failing.
func (f *Finalizer) Summarize(ctx context.Context, sessionID string) (session.Summary, error) {
	logs, err := f.store.ListLogs(ctx, sessionID)
	if err != nil {
		return session.Summary{}, err
	}

	if len(logs) == 0 {
		return session.Summary{
			Summary:   "No messages in session",
			Topics:    []string{},
			Sentiment: session.SentimentNeutral,
		}, nil
	}

	transcript, metrics := renderTranscript(logs)

	response, err := f.gen.Invoke(ctx, []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart(summaryPrompt(transcript))),
	})
	if err != nil {
		return session.Summary{}, err
	}

	sum := parseAnalysis(response, f.logger)
	sum.Metrics = metrics
	return sum, nil
}

// renderTranscript flattens the log into "User:"/"AI:" lines and counts
// the message metrics in the same pass.
func renderTranscript(logs []session.LogEntry) (string, session.Metrics) {
	var (
		lines   []string
		metrics session.Metrics
	)
	for _, entry := range logs {
		words := len(strings.Fields(entry.Message))
		switch entry.EventType {
		case session.EventUser:
			lines = append(lines, "User: "+entry.Message)
			metrics.UserMessages++
			metrics.TotalUserWords += words
		case session.EventAI:
			lines = append(lines, "AI: "+entry.Message)
			metrics.AIMessages++
			metrics.TotalAIWords += words
		}
	}
	metrics.TotalMessages = len(logs)
	return strings.Join(lines, "\n"), metrics
}

func summaryPrompt(transcript string) string {
	return `Analyze the following conversation and provide a professional summary.

Conversation:
` + transcript + `

Create a comprehensive analysis with:
1. A clear, readable summary (3-4 sentences describing what was discussed and accomplished)
2. Main topics discussed (3-5 key topics as a simple array)
3. Overall sentiment (choose one: positive, neutral, or negative)
4. Key outcomes or conclusions (1-2 sentences about what was learned or achieved)

IMPORTANT: Respond with ONLY valid JSON. No markdown, no code blocks, no extra text. Just the raw JSON object.

Example format:
{
  "summary": "The user asked about Python programming concepts. We discussed variables, data types, and control structures. The conversation covered practical examples and best practices for beginners.",
  "topics": ["Python basics", "Variables", "Data types", "Control structures"],
  "sentiment": "positive",
  "key_outcomes": "User gained understanding of fundamental Python concepts and received code examples for practice."
}`
}

// parseAnalysis decodes the model's JSON analysis. Responses that are
// not valid JSON degrade to a truncated-text placeholder.
func parseAnalysis(response string, logger Logger) session.Summary {
	var parsed struct {
		Summary     string   `json:"summary"`
		Topics      []string `json:"topics"`
		Sentiment   string   `json:"sentiment"`
		KeyOutcomes string   `json:"key_outcomes"`
	}
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		logger.Warn("summary response is not valid JSON, degrading", "error", err)
		summary := "Conversation completed"
		if response != "" {
			summary = truncate(response, degradedSummaryLen)
		}
		return session.Summary{
			Summary:     summary,
			Topics:      []string{"General conversation"},
			Sentiment:   session.SentimentNeutral,
			KeyOutcomes: "Session completed",
		}
	}

	return session.Summary{
		Summary:     parsed.Summary,
		Topics:      parsed.Topics,
		Sentiment:   parsed.Sentiment,
		KeyOutcomes: parsed.KeyOutcomes,
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
