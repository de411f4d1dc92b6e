package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/gemini-chat/internal/chat"
)

var _ chat.Store = (*SessionStore)(nil)

// SessionStore keeps each session as a Redis list of JSON messages plus a role
// key. Every write slides the TTL of all of the session's keys.
type SessionStore struct {
	rdb        *redis.Client
	maxHistory int
	ttl        time.Duration
	prefix     string
}

func NewSessionStore(rdb *redis.Client, maxHistory int, ttl time.Duration) *SessionStore {
	if maxHistory <= 0 {
		maxHistory = chat.DefaultMaxHistory
	}
	return &SessionStore{rdb: rdb, maxHistory: maxHistory, ttl: ttl, prefix: "chat:session:"}
}

// Sessions returns a session store sharing s's connection.
func (s *Store) Sessions(maxHistory int, ttl time.Duration) *SessionStore {
	return NewSessionStore(s.rdb, maxHistory, ttl)
}

func (s *SessionStore) historyKey(id string) string { return s.prefix + id + ":history" }
func (s *SessionStore) roleKey(id string) string    { return s.prefix + id + ":role" }
func (s *SessionStore) seqKey(id string) string     { return s.prefix + id + ":seq" }

type storedMessage struct {
	ID        uint64    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *SessionStore) touch(ctx context.Context, pipe redis.Pipeliner, id string) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.historyKey(id), s.ttl)
	pipe.Expire(ctx, s.roleKey(id), s.ttl)
	pipe.Expire(ctx, s.seqKey(id), s.ttl)
}

func (s *SessionStore) AppendMessage(ctx context.Context, sessionID, role, content string) (chat.Message, error) {
	seq, err := s.rdb.Incr(ctx, s.seqKey(sessionID)).Result()
	if err != nil {
		return chat.Message{}, fmt.Errorf("redis incr seq: %w", err)
	}

	m := chat.Message{
		ID:        uint64(seq),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	b, err := json.Marshal(storedMessage{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	if err != nil {
		return chat.Message{}, err
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, s.historyKey(sessionID), b)
	s.touch(ctx, pipe, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return chat.Message{}, fmt.Errorf("redis append: %w", err)
	}
	return m, nil
}

func (s *SessionStore) TrimHistory(ctx context.Context, sessionID string) error {
	return s.rdb.LTrim(ctx, s.historyKey(sessionID), int64(-s.maxHistory), -1).Err()
}

func (s *SessionStore) RecentWindow(ctx context.Context, sessionID string, n int) ([]chat.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.lrange(ctx, sessionID, int64(-n), -1)
}

func (s *SessionStore) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	msgs, err := s.lrange(ctx, sessionID, 0, -1)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}

func (s *SessionStore) lrange(ctx context.Context, sessionID string, start, stop int64) ([]chat.Message, error) {
	raw, err := s.rdb.LRange(ctx, s.historyKey(sessionID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	var out []chat.Message
	for _, r := range raw {
		var sm storedMessage
		if err := json.Unmarshal([]byte(r), &sm); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, chat.Message{
			ID:        sm.ID,
			SessionID: sessionID,
			Role:      sm.Role,
			Content:   sm.Content,
			Timestamp: sm.Timestamp,
		})
	}
	return out, nil
}

func (s *SessionStore) SetRole(ctx context.Context, sessionID, roleID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.roleKey(sessionID), roleID, 0)
	s.touch(ctx, pipe, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) GetRole(ctx context.Context, sessionID string) (string, error) {
	role, err := s.rdb.Get(ctx, s.roleKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return role, err
}

func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.historyKey(sessionID)).Err()
}
