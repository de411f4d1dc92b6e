package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/suPer8Hu/gemini-chat/internal/config"
)

var ErrEmptyMessage = errors.New("chat: empty message")

const defaultContextWindow = 10

// publishTimeout caps how long an exchange event may hold up a reply.
const publishTimeout = 500 * time.Millisecond

type Service struct {
	store             Store
	streamer          *Streamer
	roles             config.Roles
	defaultRole       string
	contextWindowSize int
	events            EventPublisher
	logger            *slog.Logger
}

func NewService(store Store, streamer *Streamer, roles config.Roles, defaultRole string, contextWindowSize int) *Service {
	if contextWindowSize < 0 || contextWindowSize > 100 {
		contextWindowSize = defaultContextWindow
	}
	if _, ok := roles[defaultRole]; !ok {
		defaultRole = config.DefaultRoleID
	}
	return &Service{
		store:             store,
		streamer:          streamer,
		roles:             roles,
		defaultRole:       defaultRole,
		contextWindowSize: contextWindowSize,
		logger:            slog.Default(),
	}
}

// SetPublisher enables exchange events. A nil publisher disables them.
func (s *Service) SetPublisher(p EventPublisher) { s.events = p }

func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

func (s *Service) Roles() config.Roles { return s.roles }

func (s *Service) DefaultRole() string { return s.defaultRole }

// ChatReply is the outcome of a non-streaming exchange.
type ChatReply struct {
	Response string `json:"response"`
	RoleID   string `json:"ai_role"`
	RoleName string `json:"role_name"`
}

// ResolveRole picks the role for a request: the requested one when it exists,
// otherwise the session's stored role, otherwise the default. An unknown
// requested role falls back to the default.
func (s *Service) ResolveRole(ctx context.Context, sessionID, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		if _, ok := s.roles[requested]; ok {
			return requested, nil
		}
		return s.defaultRole, nil
	}
	stored, err := s.store.GetRole(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if _, ok := s.roles[stored]; ok {
		return stored, nil
	}
	return s.defaultRole, nil
}

// CurrentRole returns the session's selected role, always a valid role id.
func (s *Service) CurrentRole(ctx context.Context, sessionID string) (string, error) {
	return s.ResolveRole(ctx, sessionID, "")
}

// begin validates the message, records the role selection and the user
// message, and returns the generation request built from prior history.
func (s *Service) begin(ctx context.Context, sessionID, content, requestedRole string) (Request, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Request{}, ErrEmptyMessage
	}

	roleID, err := s.ResolveRole(ctx, sessionID, requestedRole)
	if err != nil {
		return Request{}, err
	}
	if err := s.store.SetRole(ctx, sessionID, roleID); err != nil {
		return Request{}, err
	}

	// window is read before the new message is appended so the prompt
	// does not repeat it
	window, err := s.store.RecentWindow(ctx, sessionID, s.contextWindowSize)
	if err != nil {
		return Request{}, err
	}

	if _, err := s.store.AppendMessage(ctx, sessionID, RoleUser, content); err != nil {
		return Request{}, err
	}
	s.logger.Info("added user message", "session_id", sessionID, "ai_role", roleID)

	return Request{
		Message: content,
		RoleID:  roleID,
		Role:    s.roles[roleID],
		Window:  window,
	}, nil
}

// SendMessage runs one non-streaming exchange. Generation failures are masked
// by the streamer; returned errors are store failures or ErrEmptyMessage.
func (s *Service) SendMessage(ctx context.Context, sessionID, content, requestedRole string) (*ChatReply, error) {
	req, err := s.begin(ctx, sessionID, content, requestedRole)
	if err != nil {
		return nil, err
	}

	reply := s.streamer.Complete(ctx, req)

	if _, err := s.store.AppendMessage(ctx, sessionID, RoleAssistant, reply.Text); err != nil {
		return nil, err
	}
	if err := s.store.TrimHistory(ctx, sessionID); err != nil {
		return nil, err
	}

	s.publish(ctx, ExchangeEvent{
		SessionID:  sessionID,
		RoleID:     req.RoleID,
		Mode:       ModeComplete,
		Overridden: reply.Overridden,
		UserChars:  len(req.Message),
		ReplyChars: len(reply.Text),
	})

	return &ChatReply{Response: reply.Text, RoleID: req.RoleID, RoleName: req.Role.Name}, nil
}

// SendMessageStream stores the user message immediately and returns the reply
// stream. The assistant message is stored when the consumer reaches Done; on
// a StreamError, or when the stream is closed early, only the history bound
// is enforced.
func (s *Service) SendMessageStream(ctx context.Context, sessionID, content, requestedRole string) (*Stream, error) {
	req, err := s.begin(ctx, sessionID, content, requestedRole)
	if err != nil {
		return nil, err
	}

	st := s.streamer.Stream(ctx, req)
	overridden := st.Overridden()
	// hooks run while the client may already be gone
	wctx := context.WithoutCancel(ctx)

	st.OnDone(func(d Done) {
		if _, err := s.store.AppendMessage(wctx, sessionID, RoleAssistant, d.Response); err != nil {
			s.logger.Error("store assistant message failed", "session_id", sessionID, "error", err)
		}
		if err := s.store.TrimHistory(wctx, sessionID); err != nil {
			s.logger.Error("trim history failed", "session_id", sessionID, "error", err)
		}
		s.publish(wctx, ExchangeEvent{
			SessionID:  sessionID,
			RoleID:     req.RoleID,
			Mode:       ModeStream,
			Overridden: overridden,
			UserChars:  len(req.Message),
			ReplyChars: len(d.Response),
		})
	})
	st.OnAbort(func() {
		// consumer left before the terminal fragment; keep the bound anyway
		if err := s.store.TrimHistory(wctx, sessionID); err != nil {
			s.logger.Error("trim history failed", "session_id", sessionID, "error", err)
		}
		s.logger.Info("stream abandoned before completion", "session_id", sessionID)
	})
	st.OnError(func(error) {
		if err := s.store.TrimHistory(wctx, sessionID); err != nil {
			s.logger.Error("trim history failed", "session_id", sessionID, "error", err)
		}
		s.publish(wctx, ExchangeEvent{
			SessionID: sessionID,
			RoleID:    req.RoleID,
			Mode:      ModeStream,
			Failed:    true,
			UserChars: len(req.Message),
		})
	})
	return st, nil
}

func (s *Service) ClearHistory(ctx context.Context, sessionID string) error {
	return s.store.Clear(ctx, sessionID)
}

// History returns the session's full log and its selected role.
func (s *Service) History(ctx context.Context, sessionID string) ([]Message, string, error) {
	msgs, err := s.store.History(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	roleID, err := s.CurrentRole(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return msgs, roleID, nil
}

func (s *Service) publish(ctx context.Context, ev ExchangeEvent) {
	if s.events == nil {
		return
	}
	ev.At = time.Now().UTC()
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.events.PublishExchange(ctx, ev); err != nil {
		s.logger.Warn("publish exchange event failed", "session_id", ev.SessionID, "error", err)
	}
}
