package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gemini-chat/internal/common"
	"github.com/suPer8Hu/gemini-chat/internal/httpapi/middleware"
)

func (h *Handler) ClearChat(c *gin.Context) {
	sid := middleware.SessionID(c)
	if err := h.ChatSvc.ClearHistory(c.Request.Context(), sid); err != nil {
		slog.Error("clear chat failed", "session_id", sid, "error", err)
		common.Fail(c, http.StatusInternalServerError, "Failed to clear chat")
		return
	}
	slog.Info("cleared chat history", "session_id", sid)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) GetHistory(c *gin.Context) {
	sid := middleware.SessionID(c)
	msgs, roleID, err := h.ChatSvc.History(c.Request.Context(), sid)
	if err != nil {
		slog.Error("get history failed", "session_id", sid, "error", err)
		common.Fail(c, http.StatusInternalServerError, "Failed to get chat history")
		return
	}
	slog.Info("retrieved chat history", "session_id", sid, "messages", len(msgs))
	c.JSON(http.StatusOK, gin.H{
		"history":    msgs,
		"ai_role":    roleID,
		"session_id": sid,
	})
}

// Roles lists the role catalogue for clients building a role picker.
func (h *Handler) Roles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"roles":        h.ChatSvc.Roles(),
		"default_role": h.ChatSvc.DefaultRole(),
	})
}

func (h *Handler) DebugSession(c *gin.Context) {
	if !h.Cfg.Debug {
		common.Fail(c, http.StatusForbidden, "Debug mode only")
		return
	}
	sid := middleware.SessionID(c)
	msgs, roleID, err := h.ChatSvc.History(c.Request.Context(), sid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":         sid,
		"chat_history_count": len(msgs),
		"ai_role":            roleID,
		"session_backend":    h.Cfg.SessionBackend,
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"ai_model":  h.Cfg.AIModel(),
	})
}

func (h *Handler) Test(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Server is working!",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
