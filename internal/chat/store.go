package chat

import (
	"context"
	"sync"
)

// Store owns one bounded, ordered conversation log per session id plus the
// session's selected role. Sessions are created lazily on first write;
// reading an unknown session yields an empty history and an empty role.
//
// History is only ever appended to or truncated from the oldest end, so the
// retained suffix is always the most recent messages in arrival order.
type Store interface {
	AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error)
	// TrimHistory drops the oldest messages until at most the store's
	// configured maximum remain. Idempotent.
	TrimHistory(ctx context.Context, sessionID string) error
	// RecentWindow returns up to n of the newest messages, oldest first.
	RecentWindow(ctx context.Context, sessionID string, n int) ([]Message, error)
	History(ctx context.Context, sessionID string) ([]Message, error)
	SetRole(ctx context.Context, sessionID, roleID string) error
	GetRole(ctx context.Context, sessionID string) (string, error)
	// Clear empties the history and leaves the role untouched.
	Clear(ctx context.Context, sessionID string) error
}

const DefaultMaxHistory = 50

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory. Sessions live as long as the
// process does.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	maxHistory int
	seq        uint64
}

func NewMemoryStore(maxHistory int) *MemoryStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &MemoryStore{sessions: make(map[string]*Session), maxHistory: maxHistory}
}

// session returns the session for id, creating it when missing. Caller holds mu.
func (s *MemoryStore) session(id string) *Session {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id}
		s.sessions[id] = sess
	}
	return sess
}

func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error) {
	m := newMessage(sessionID, role, content)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(sessionID)
	s.seq++
	m.ID = s.seq
	sess.History = append(sess.History, m)
	return m, nil
}

func (s *MemoryStore) TrimHistory(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if extra := len(sess.History) - s.maxHistory; extra > 0 {
		sess.History = append([]Message(nil), sess.History[extra:]...)
	}
	return nil
}

func (s *MemoryStore) RecentWindow(ctx context.Context, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	start := len(sess.History) - n
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), sess.History[start:]...), nil
}

func (s *MemoryStore) History(ctx context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return []Message{}, nil
	}
	return append([]Message{}, sess.History...), nil
}

func (s *MemoryStore) SetRole(ctx context.Context, sessionID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).SelectedRole = roleID
	return nil
}

func (s *MemoryStore) GetRole(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.SelectedRole, nil
	}
	return "", nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.History = nil
	}
	return nil
}
