package chat

import (
	"context"
	"time"
)

const (
	ModeComplete = "complete"
	ModeStream   = "stream"
)

// ExchangeEvent describes one finalized user/assistant exchange. It carries
// sizes only, never message content.
type ExchangeEvent struct {
	SessionID  string    `json:"session_id"`
	RoleID     string    `json:"ai_role"`
	Mode       string    `json:"mode"`
	Overridden bool      `json:"overridden"`
	Failed     bool      `json:"failed"`
	UserChars  int       `json:"user_chars"`
	ReplyChars int       `json:"reply_chars"`
	At         time.Time `json:"at"`
}

type EventPublisher interface {
	PublishExchange(ctx context.Context, ev ExchangeEvent) error
}
