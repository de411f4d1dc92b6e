package handlers

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/gemini-chat/internal/chat"
	"github.com/suPer8Hu/gemini-chat/internal/config"
)

type Handler struct {
	Cfg      config.Config
	ChatSvc  *chat.Service
	upgrader websocket.Upgrader
}

func NewHandler(cfg config.Config, svc *chat.Service) *Handler {
	h := &Handler{Cfg: cfg, ChatSvc: svc}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts any origin unless CORS_ORIGINS restricts them.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.Cfg.CORSOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.Cfg.CORSOrigins, origin)
}
