package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/gemini-chat/internal/chat"
	"github.com/suPer8Hu/gemini-chat/internal/httpapi/middleware"
)

type wsInbound struct {
	Message string `json:"message"`
	AIRole  string `json:"ai_role"`
}

// ChatWS answers each inbound {message, ai_role} frame with the same fragment
// sequence /chat/stream produces, one JSON text frame per fragment. Frames
// are handled one at a time.
func (h *Handler) ChatWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sid := middleware.SessionID(c)
	ctx := c.Request.Context()
	logger := slog.With("session_id", sid, "transport", "websocket")
	logger.Info("websocket connected")

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		st, err := h.ChatSvc.SendMessageStream(ctx, sid, in.Message, strings.TrimSpace(in.AIRole))
		if err != nil {
			msg := "Streaming failed"
			if errors.Is(err, chat.ErrEmptyMessage) {
				msg = "Empty message"
			} else {
				logger.Error("chat stream failed", "error", err)
			}
			if err := conn.WriteJSON(chat.StreamError{Message: msg}); err != nil {
				return
			}
			continue
		}

		if !h.relay(conn, st, logger) {
			return
		}
	}
}

// relay writes every fragment of st and reports whether the connection is
// still usable.
func (h *Handler) relay(conn *websocket.Conn, st *chat.Stream, logger *slog.Logger) bool {
	defer st.Close()
	for st.Next() {
		if err := conn.WriteJSON(st.Fragment()); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return false
		}
	}
	return true
}
