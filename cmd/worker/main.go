package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/gemini-chat/internal/chat"
	"github.com/suPer8Hu/gemini-chat/internal/config"
	"github.com/suPer8Hu/gemini-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/gemini-chat/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

type eventMetrics struct {
	exchanges  metric.Int64Counter
	replyChars metric.Int64Histogram
	rejected   metric.Int64Counter
}

func newEventMetrics() eventMetrics {
	meter := otel.Meter("github.com/suPer8Hu/gemini-chat/cmd/worker")
	exchanges, _ := meter.Int64Counter("chat.exchanges",
		metric.WithDescription("Finalized chat exchanges"))
	replyChars, _ := meter.Int64Histogram("chat.reply.chars",
		metric.WithDescription("Assistant reply length in bytes"))
	rejected, _ := meter.Int64Counter("chat.exchange_events.rejected",
		metric.WithDescription("Undecodable exchange events sent to the DLQ"))
	return eventMetrics{exchanges: exchanges, replyChars: replyChars, rejected: rejected}
}

func (m eventMetrics) record(ctx context.Context, ev chat.ExchangeEvent) {
	attrs := metric.WithAttributes(
		attribute.String("mode", ev.Mode),
		attribute.String("ai_role", ev.RoleID),
		attribute.Bool("overridden", ev.Overridden),
		attribute.Bool("failed", ev.Failed),
	)
	m.exchanges.Add(ctx, 1, attrs)
	if !ev.Failed {
		m.replyChars.Record(ctx, int64(ev.ReplyChars), attrs)
	}
}

func main() {
	cfg := config.Load()

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, "chat-worker", cfg.LogLevel)
	if err != nil {
		slog.Error("init logger", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "chat-worker")
	if err != nil {
		logger.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if cfg.RabbitURL == "" {
		logger.Error("RABBIT_URL is required for the worker")
		os.Exit(1)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Error("rabbit dial", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("rabbit channel", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		logger.Error("queue declare", "error", err)
		os.Exit(1)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Error("qos", "error", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Error("consume", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	metrics := newEventMetrics()

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				handleDelivery(ctx, logger.With("worker", workerID), metrics, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				close(deliveries)
				wg.Wait()
				return
			}
			deliveries <- d
		}
	}
}

func handleDelivery(ctx context.Context, logger *slog.Logger, m eventMetrics, d amqp.Delivery) {
	ev, err := rabbitmq.DecodeExchange(d.Body)
	if err != nil {
		logger.Warn("bad exchange event", "error", err)
		m.rejected.Add(ctx, 1)
		_ = d.Nack(false, false)
		return
	}

	m.record(ctx, ev)
	logger.Info("exchange",
		"session_id", ev.SessionID,
		"ai_role", ev.RoleID,
		"mode", ev.Mode,
		"overridden", ev.Overridden,
		"failed", ev.Failed,
		"user_chars", ev.UserChars,
		"reply_chars", ev.ReplyChars,
		"lag", time.Since(ev.At).String(),
	)

	if err := d.Ack(false); err != nil {
		logger.Error("ack failed", "session_id", ev.SessionID, "error", err)
	}
}
