package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/gemini-chat/internal/chat"
)

var _ chat.EventPublisher = (*Publisher)(nil)

// Publisher sends exchange events to a durable queue. Channels are not safe
// for concurrent publishing, so publishes are serialized.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func DeadLetterQueue(queue string) string { return queue + ".dlq" }

type queueDecl struct {
	name string
	args amqp.Table
}

// queueLayout lists the queues behind queue in declaration order. The DLQ
// must exist before the main queue points at it.
func queueLayout(queue string) []queueDecl {
	dlq := DeadLetterQueue(queue)
	return []queueDecl{
		{name: dlq},
		// main: nack(requeue=false) -> DLQ
		{name: queue, args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}},
	}
}

// DeclareQueues declares the main queue and its dead-letter queue.
// Publisher and worker both call it so the arguments always match.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	for _, q := range queueLayout(queue) {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishExchange(ctx context.Context, ev chat.ExchangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    ev.At,
		},
	)
}

// DecodeExchange parses a delivery body published by PublishExchange.
func DecodeExchange(body []byte) (chat.ExchangeEvent, error) {
	var ev chat.ExchangeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, err
	}
	if ev.SessionID == "" {
		return ev, fmt.Errorf("exchange event: missing session_id")
	}
	switch ev.Mode {
	case chat.ModeComplete, chat.ModeStream:
	default:
		return ev, fmt.Errorf("exchange event: unknown mode %q", ev.Mode)
	}
	return ev, nil
}
