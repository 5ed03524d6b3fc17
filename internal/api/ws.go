package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/chat"
)

// default identity until real authentication exists.
const defaultUserID = "placeholder_user"

// ConnHandler owns an upgraded connection until it closes.
// *chat.Controller satisfies it.
type ConnHandler interface {
	Serve(ctx context.Context, conn chat.Conn, sessionID, userID string)
}

type wsHandler struct {
	chat   ConnHandler
	logger *slog.Logger
}

// The chat endpoint has no origin restriction: sessions are
// client-identified and carry no credentials.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// serve upgrades the request and hands the connection to the chat
// controller. The handler returns when the conversation ends.
func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = defaultUserID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	h.logger.Info("websocket connected",
		"conn_id", connID, "session_id", sessionID, "user_id", userID)

	h.chat.Serve(r.Context(), conn, sessionID, userID)

	h.logger.Info("websocket closed", "conn_id", connID, "session_id", sessionID)
}
