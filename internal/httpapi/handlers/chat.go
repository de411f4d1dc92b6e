package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gemini-chat/internal/chat"
	"github.com/suPer8Hu/gemini-chat/internal/common"
	"github.com/suPer8Hu/gemini-chat/internal/httpapi/middleware"
)

type chatReq struct {
	Message *string `json:"message"`
	AIRole  string  `json:"ai_role"`
}

// bindChat decodes the body and reports a 400 for a missing message. Empty
// messages are rejected by the service so no session state is touched.
func bindChat(c *gin.Context) (chatReq, bool) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == nil {
		common.Fail(c, http.StatusBadRequest, "No message provided")
		return req, false
	}
	return req, true
}

func (h *Handler) Chat(c *gin.Context) {
	req, ok := bindChat(c)
	if !ok {
		return
	}
	sid := middleware.SessionID(c)

	reply, err := h.ChatSvc.SendMessage(c.Request.Context(), sid, *req.Message, req.AIRole)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			common.Fail(c, http.StatusBadRequest, "Empty message")
			return
		}
		slog.Error("chat failed", "session_id", sid, "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	c.JSON(http.StatusOK, reply)
}

func (h *Handler) ChatStream(c *gin.Context) {
	req, ok := bindChat(c)
	if !ok {
		return
	}
	sid := middleware.SessionID(c)

	st, err := h.ChatSvc.SendMessageStream(c.Request.Context(), sid, *req.Message, req.AIRole)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			common.Fail(c, http.StatusBadRequest, "Empty message")
			return
		}
		slog.Error("chat stream failed", "session_id", sid, "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, "Streaming failed")
		return
	}
	defer st.Close()

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	ctx := c.Request.Context()

	for st.Next() {
		if err := chat.WriteSSE(c.Writer, st.Fragment()); err != nil {
			slog.Warn("sse write failed", "session_id", sid, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if ctx.Err() != nil {
			// client went away; Close releases the remote stream
			slog.Info("client disconnected mid-stream", "session_id", sid)
			return
		}
	}
}
