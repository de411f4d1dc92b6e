package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gemini-chat/internal/ai"
	"github.com/suPer8Hu/gemini-chat/internal/chat"
	"github.com/suPer8Hu/gemini-chat/internal/config"
	"github.com/suPer8Hu/gemini-chat/internal/db"
	"github.com/suPer8Hu/gemini-chat/internal/httpapi"
	"github.com/suPer8Hu/gemini-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/gemini-chat/internal/store/redisstore"
	"github.com/suPer8Hu/gemini-chat/internal/telemetry"
)

// buildStore returns the session store selected by SESSION_BACKEND and a
// closer for its connection.
func buildStore(cfg config.Config) (chat.Store, io.Closer, error) {
	switch cfg.SessionBackend {
	case "", "memory":
		return chat.NewMemoryStore(cfg.MaxChatHistory), io.NopCloser(nil), nil
	case "redis":
		rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return rds.Sessions(cfg.MaxChatHistory, cfg.SessionTTL), rds, nil
	case "db":
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		repo := chat.NewRepo(gdb, cfg.MaxChatHistory)
		if err := repo.Migrate(); err != nil {
			return nil, nil, fmt.Errorf("automigrate: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, err
		}
		return repo, sqlDB, nil
	default:
		return nil, nil, fmt.Errorf("unsupported SESSION_BACKEND=%q", cfg.SessionBackend)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	roles := config.BuiltinRoles()
	if cfg.RolesFile != "" {
		var err error
		if roles, err = config.LoadRoles(cfg.RolesFile, cfg.DefaultRole); err != nil {
			return err
		}
	}

	provider, err := ai.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	store, closer, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	svc := chat.NewService(store, chat.NewStreamer(provider, logger), roles, cfg.DefaultRole, cfg.ChatContextWindowSize)
	svc.SetLogger(logger)

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			// events are optional; chat keeps working without them
			logger.Warn("exchange events disabled", "error", err)
		} else {
			defer pub.Close()
			svc.SetPublisher(pub)
		}
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting chat server",
			"addr", cfg.HTTPAddr,
			"ai_provider", cfg.AIProvider,
			"ai_model", cfg.AIModel(),
			"session_backend", cfg.SessionBackend,
			"roles", len(roles),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	cfg := config.Load()

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, "chat-server", cfg.LogLevel)
	if err != nil {
		slog.Error("init logger", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "chat-server")
	if err != nil {
		logger.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		stop()
		cleanup()
		os.Exit(1)
	}
}
