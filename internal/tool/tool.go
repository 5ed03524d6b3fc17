// Package tool routes utterances to side-effecting session lookups and
// executes them.
//
// Routing is a fixed-priority rule engine: statistics keywords, then
// history-search keywords, then session-listing keywords. First match
// wins and at most one tool fires per turn. Execution never aborts a
// turn: any failure degrades to a structured error payload that is
// folded into the prompt as data.
package tool

import (
	"context"
	"log/slog"
	"strings"
)

// Name is the tagged identifier of a tool. The router produces the tag;
// the registry resolves it to a handler.
type Name string

const (
	SessionStats   Name = "get_session_stats"
	HistorySearch  Name = "search_chat_history"
	SessionListing Name = "get_all_sessions"
)

// Params carries tool input. Keyword is only set for HistorySearch.
type Params struct {
	SessionID string
	Keyword   string
}

// Payload is a tool's JSON-shaped result.
type Payload = map[string]any

// routing keyword sets, checked in priority order.
var (
	statsKeywords = []string{
		"how many messages", "message count", "how long", "duration",
		"session stats", "my activity", "how many times",
	}
	searchKeywords = []string{
		"did i mention", "what did we discuss", "did we talk about",
		"search for", "find in history", "previous conversation",
	}
	listingKeywords = []string{
		"my previous chats", "chat history", "all sessions",
		"past conversations", "show my sessions",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Route decides whether a tool should fire for the utterance.
// The boolean result is false when no tool is needed.
func Route(utterance, sessionID string) (Name, Params, bool) {
	lower := strings.ToLower(utterance)

	if containsAny(lower, statsKeywords) {
		return SessionStats, Params{SessionID: sessionID}, true
	}
	if containsAny(lower, searchKeywords) {
		return HistorySearch, Params{SessionID: sessionID, Keyword: ExtractKeyword(utterance)}, true
	}
	if containsAny(lower, listingKeywords) {
		return SessionListing, Params{}, true
	}
	return "", Params{}, false
}

// linking phrases scanned during keyword extraction, in order. The
// trailing space matters: "for " must not match inside "before".
var linkingPhrases = []string{
	"about ", "mention ", "discuss ", "talk about ", "said about ",
	"for ", "regarding ",
}

// ExtractKeyword pulls the search keyword out of an utterance: the first
// whitespace token after the first linking phrase found, with trailing
// punctuation stripped. Without a linking phrase it falls back to the
// utterance's last token; an empty utterance yields "unknown".
func ExtractKeyword(utterance string) string {
	lower := strings.ToLower(utterance)

	for _, phrase := range linkingPhrases {
		if _, after, ok := strings.Cut(lower, phrase); ok {
			fields := strings.Fields(after)
			if len(fields) == 0 {
				return "unknown"
			}
			return strings.Trim(fields[0], "?,.")
		}
	}

	fields := strings.Fields(utterance)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.Trim(fields[len(fields)-1], "?,.")
}

// Handler executes one tool. Implementations return a payload or an
// error; the registry owns error degradation.
type Handler interface {
	Execute(ctx context.Context, params Params) (Payload, error)
}

// Registry maps tool names to handlers.
type Registry struct {
	handlers map[Name]Handler
	logger   *slog.Logger
}

// NewRegistry creates a registry with the three built-in session tools
// backed by the given store.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: map[Name]Handler{
			SessionStats:   &statsHandler{store: store},
			HistorySearch:  &searchHandler{store: store},
			SessionListing: &listingHandler{store: store},
		},
		logger: logger,
	}
}

// Register adds or replaces a handler. Exists for tests and future
// tools; the built-ins are registered by NewRegistry.
func (r *Registry) Register(name Name, h Handler) {
	r.handlers[name] = h
}

// Execute runs the named tool and always returns a payload: handler
// errors and unknown names degrade to an {"error": ...} payload so a
// failing tool can be explained conversationally instead of aborting
// the turn.
func (r *Registry) Execute(ctx context.Context, name Name, params Params) Payload {
	r.logger.Debug("executing tool", "tool", name, "session_id", params.SessionID)

	h, ok := r.handlers[name]
	if !ok {
		return Payload{"error": "Unknown tool: " + string(name)}
	}

	payload, err := h.Execute(ctx, params)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		return Payload{"error": err.Error()}
	}
	return payload
}
