package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gemini-chat/internal/chat"
	"github.com/suPer8Hu/gemini-chat/internal/common"
	"github.com/suPer8Hu/gemini-chat/internal/config"
	"github.com/suPer8Hu/gemini-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/gemini-chat/internal/httpapi/middleware"
)

func corsConfig(cfg config.Config) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORSOrigins) > 0 {
		cc.AllowOrigins = cfg.CORSOrigins
	} else {
		// credentials require an echoed origin rather than "*"
		cc.AllowOriginFunc = func(string) bool { return true }
	}
	return cc
}

func NewRouter(cfg config.Config, svc *chat.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(cors.New(corsConfig(cfg)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, "Not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	h := handlers.NewHandler(cfg, svc)

	r.GET("/health", h.Health)
	r.GET("/test", h.Test)
	r.GET("/roles", h.Roles)

	sess := r.Group("/")
	sess.Use(middleware.Session(cfg.SecretKey, !cfg.Debug))
	sess.POST("/chat", h.Chat)
	sess.POST("/chat/stream", h.ChatStream)
	sess.GET("/chat/ws", h.ChatWS)
	sess.POST("/clear_chat", h.ClearChat)
	sess.GET("/get_history", h.GetHistory)
	sess.GET("/debug_session", h.DebugSession)
	return r
}
