// Package chat drives one conversational connection: per-turn intent
// routing, optional tool execution, bounded context assembly, token
// streaming and persistence, with asynchronous finalization when the
// connection ends.
package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/prompt"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/tool"
)

// Store is the persistence surface the controller needs.
// *session.Store satisfies it.
type Store interface {
	GetBySessionID(ctx context.Context, sessionID string) (*session.Session, error)
	Create(ctx context.Context, sessionID, userID string) (*session.Session, error)
	SetStatus(ctx context.Context, sessionID, status string) error
	AppendLog(ctx context.Context, sessionID, eventType, message string, metadata *session.LogMetadata) error
	RecentLogs(ctx context.Context, sessionID string, limit int) ([]session.LogEntry, error)
}

// Streamer generates a response while forwarding fragments.
// *engine.Engine satisfies it.
type Streamer interface {
	Stream(ctx context.Context, msgs []*ai.Message, fn engine.StreamFunc) (string, error)
}

// ToolRunner executes a routed tool. *tool.Registry satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, name tool.Name, params tool.Params) tool.Payload
}

// Finalizer commits a session's terminal state. *finalize.Finalizer
// satisfies it.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID string)
}

// Conn is the frame surface of a websocket connection.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// per-connection rate limit: sustained turns per second and burst.
const (
	turnRate  = rate.Limit(2)
	turnBurst = 5
)

// Controller runs the session loop for one connection.
type Controller struct {
	store     Store
	streamer  Streamer
	tools     ToolRunner
	finalizer Finalizer
	logger    *slog.Logger
}

func NewController(store Store, streamer Streamer, tools ToolRunner, finalizer Finalizer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:     store,
		streamer:  streamer,
		tools:     tools,
		finalizer: finalizer,
		logger:    logger,
	}
}

// Serve owns the connection until the client disconnects or ctx ends.
// After a successful session init it always finalizes on exit, exactly
// once, detached from the connection's context so a disconnect cannot
// cancel the summary.
func (c *Controller) Serve(ctx context.Context, conn Conn, sessionID, userID string) {
	logger := c.logger.With("session_id", sessionID)

	if err := c.initSession(ctx, sessionID, userID); err != nil {
		logger.Error("session init failed", "error", err)
		c.send(conn, "Error: Could not initialize session.")
		return
	}

	defer func() {
		logger.Info("connection closed, finalizing")
		c.finalizer.Finalize(context.WithoutCancel(ctx), sessionID)
	}()

	limiter := rate.NewLimiter(turnRate, turnBurst)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read loop ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		c.handleTurn(ctx, conn, logger, sessionID, string(data))
	}
}

// initSession looks up the session and reactivates it, or creates it on
// first connect.
func (c *Controller) initSession(ctx context.Context, sessionID, userID string) error {
	_, err := c.store.GetBySessionID(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		_, err = c.store.Create(ctx, sessionID, userID)
		return err
	}
	if err != nil {
		return err
	}
	return c.store.SetStatus(ctx, sessionID, session.StatusActive)
}

func (c *Controller) handleTurn(ctx context.Context, conn Conn, logger *slog.Logger, sessionID, utterance string) {
	turnIntent := intent.Classify(utterance)
	logger.Debug("classified turn", "intent", turnIntent)
	if !c.send(conn, "["+turnIntent.Label()+"]\n") {
		return
	}

	// Tools run before the user turn is persisted: statistics and
	// history search reflect the session as it was, not the in-flight
	// question.
	toolName, toolParams, toolFired := tool.Route(utterance, sessionID)
	var toolPayload tool.Payload
	if toolFired {
		if !c.send(conn, "🔍 Fetching data using "+string(toolName)+"...\n") {
			return
		}
		toolPayload = c.tools.Execute(ctx, toolName, toolParams)
		if !c.send(conn, "✅ Data retrieved successfully!\n\n") {
			return
		}
	}

	// Best effort: a failed append must not drop the turn.
	if err := c.store.AppendLog(ctx, sessionID, session.EventUser, utterance, nil); err != nil {
		logger.Warn("failed to log user message", "error", err)
	}

	history, err := c.store.RecentLogs(ctx, sessionID, prompt.HistoryLimit)
	if err != nil {
		logger.Warn("failed to fetch history, continuing without it", "error", err)
		history = nil
	}
	// The current utterance was appended above; keep it out of the
	// window so it enters the context exactly once.
	if n := len(history); n > 0 &&
		history[n-1].EventType == session.EventUser && history[n-1].Message == utterance {
		history = history[:n-1]
	}

	msgs := prompt.Build(turnIntent.Template(), history, utterance, toolName, toolPayload)

	text, err := c.streamer.Stream(ctx, msgs, func(_ context.Context, fragment string) error {
		if !c.send(conn, fragment) {
			return errors.New("client write failed")
		}
		return nil
	})
	if err != nil {
		logger.Error("generation failed", "error", err)
		c.send(conn, "Error: "+err.Error())
		return
	}
	if text == "" {
		return
	}

	metadata := &session.LogMetadata{Intent: string(turnIntent)}
	if toolFired {
		metadata.ToolUsed = string(toolName)
	}
	if err := c.store.AppendLog(ctx, sessionID, session.EventAI, text, metadata); err != nil {
		logger.Warn("failed to log response with metadata, retrying without", "error", err)
		if err := c.store.AppendLog(ctx, sessionID, session.EventAI, text, nil); err != nil {
			logger.Warn("failed to log response", "error", err)
		}
	}
}

// send writes one text frame. A false return means the connection is
// gone and the turn should stop.
func (c *Controller) send(conn Conn, text string) bool {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.logger.Debug("write failed", "error", err)
		return false
	}
	return true
}
