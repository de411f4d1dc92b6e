package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/suPer8Hu/gemini-chat/internal/ai"
	"github.com/suPer8Hu/gemini-chat/internal/config"
)

func newTestService(t *testing.T, prov ai.Provider, maxHistory int) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(maxHistory)
	svc := NewService(store, NewStreamer(prov, nil), config.BuiltinRoles(), config.DefaultRoleID, 10)
	return svc, store
}

func TestSendMessage_WritesUserAndAssistant(t *testing.T) {
	prov := &scriptedProvider{complete: "ok"}
	svc, store := newTestService(t, prov, 50)

	reply, err := svc.SendMessage(context.Background(), "s1", "  Hello  ", "")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if reply.Response != "ok" || reply.RoleID != config.DefaultRoleID || reply.RoleName == "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	msgs, _ := store.History(context.Background(), "s1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "Hello" {
		t.Fatalf("unexpected user msg: role=%q content=%q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "ok" {
		t.Fatalf("unexpected assistant msg: role=%q content=%q", msgs[1].Role, msgs[1].Content)
	}
}

func TestSendMessage_UsesContextWindow(t *testing.T) {
	prov := &scriptedProvider{complete: "ok"}
	store := NewMemoryStore(50)
	svc := NewService(store, NewStreamer(prov, nil), config.BuiltinRoles(), config.DefaultRoleID, 3)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, _ = store.AppendMessage(ctx, "s1", role, fmt.Sprintf("seed%d", i))
	}

	if _, err := svc.SendMessage(ctx, "s1", "latest question", ""); err != nil {
		t.Fatalf("send message: %v", err)
	}

	prompt := prov.lastPrompt()
	if strings.Contains(prompt, "seed0") || strings.Contains(prompt, "seed1") {
		t.Fatalf("prompt contains messages outside the window: %q", prompt)
	}
	for _, want := range []string{"Human: seed2", "Assistant: seed3", "Human: seed4", "Human: latest question\nAssistant:"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q: %q", want, prompt)
		}
	}
	if strings.Count(prompt, "latest question") != 1 {
		t.Fatalf("latest message should appear once in the prompt: %q", prompt)
	}
}

func TestSendMessage_EmptyMessageDoesNotMutate(t *testing.T) {
	svc, store := newTestService(t, forbiddenProvider{t: t}, 50)
	ctx := context.Background()

	for _, msg := range []string{"", "   ", "\n\t"} {
		if _, err := svc.SendMessage(ctx, "s1", msg, "code_expert"); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("SendMessage(%q) err = %v", msg, err)
		}
		if _, err := svc.SendMessageStream(ctx, "s1", msg, "code_expert"); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("SendMessageStream(%q) err = %v", msg, err)
		}
	}

	h, _ := store.History(ctx, "s1")
	role, _ := store.GetRole(ctx, "s1")
	if len(h) != 0 || role != "" {
		t.Fatalf("session mutated: history=%d role=%q", len(h), role)
	}
}

func TestSendMessage_FailureReturnsFallback(t *testing.T) {
	svc, _ := newTestService(t, &scriptedProvider{openErr: errors.New("timeout")}, 50)

	reply, err := svc.SendMessage(context.Background(), "s1", "hi", "")
	if err != nil {
		t.Fatalf("generation failure must be masked, got %v", err)
	}
	if reply.Response != FallbackFailure {
		t.Fatalf("reply = %q", reply.Response)
	}
}

func TestSendMessage_OverrideDoesNotCallRemote(t *testing.T) {
	svc, store := newTestService(t, forbiddenProvider{t: t}, 50)

	reply, err := svc.SendMessage(context.Background(), "s1", "which model are you using", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Response != "gemini 1.5 flash" {
		t.Fatalf("reply = %q", reply.Response)
	}
	if h, _ := store.History(context.Background(), "s1"); len(h) != 2 {
		t.Fatalf("override exchange should still be recorded, got %d messages", len(h))
	}
}

func TestResolveRole(t *testing.T) {
	svc, store := newTestService(t, &scriptedProvider{complete: "ok"}, 50)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "s1", "hi", "code_expert"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if role, _ := store.GetRole(ctx, "s1"); role != "code_expert" {
		t.Fatalf("selected role = %q", role)
	}

	// omitted role keeps the session's selection
	reply, _ := svc.SendMessage(ctx, "s1", "again", "")
	if reply.RoleID != "code_expert" {
		t.Fatalf("omitted role should reuse session role, got %q", reply.RoleID)
	}

	// unknown role falls back to the default rather than erroring
	reply, err := svc.SendMessage(ctx, "s1", "again", "no_such_role")
	if err != nil {
		t.Fatalf("unknown role: %v", err)
	}
	if reply.RoleID != config.DefaultRoleID {
		t.Fatalf("unknown role resolved to %q", reply.RoleID)
	}
	if role, _ := store.GetRole(ctx, "s1"); role != config.DefaultRoleID {
		t.Fatalf("stored role = %q", role)
	}
}

func TestHistoryBoundAcrossRequests(t *testing.T) {
	svc, store := newTestService(t, &scriptedProvider{complete: "ok"}, 5)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := svc.SendMessage(ctx, "s1", fmt.Sprintf("m%d", i), ""); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if h, _ := store.History(ctx, "s1"); len(h) > 5 {
			t.Fatalf("history length %d exceeds bound", len(h))
		}
	}
	h, _ := store.History(ctx, "s1")
	if h[len(h)-1].Role != RoleAssistant || h[len(h)-2].Content != "m6" {
		t.Fatalf("newest exchange not retained: %+v", h)
	}
}

func TestSendMessageStream_StoresAssistantOnDone(t *testing.T) {
	prov := &scriptedProvider{chunks: []string{"str", "eamed"}}
	svc, store := newTestService(t, prov, 50)
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)

	st, err := svc.SendMessageStream(context.Background(), "s1", "tell me", "")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	frags := collect(st)
	done := frags[len(frags)-1].(Done)
	if done.Response != "streamed" {
		t.Fatalf("done = %+v", done)
	}

	h, _ := store.History(context.Background(), "s1")
	if len(h) != 2 || h[1].Role != RoleAssistant || h[1].Content != "streamed" {
		t.Fatalf("unexpected history %+v", h)
	}
	if len(pub.events) != 1 || pub.events[0].Mode != ModeStream || pub.events[0].ReplyChars != len("streamed") {
		t.Fatalf("unexpected events %+v", pub.events)
	}
}

func TestSendMessageStream_ErrorStoresNoAssistant(t *testing.T) {
	svc, store := newTestService(t, &scriptedProvider{openErr: errors.New("quota")}, 50)
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)

	st, err := svc.SendMessageStream(context.Background(), "s1", "tell me", "")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	frags := collect(st)
	if len(frags) != 1 {
		t.Fatalf("expected a single error fragment, got %+v", frags)
	}
	if _, ok := frags[0].(StreamError); !ok {
		t.Fatalf("fragment is %T", frags[0])
	}

	h, _ := store.History(context.Background(), "s1")
	if len(h) != 1 || h[0].Role != RoleUser {
		t.Fatalf("only the user message should be stored, got %+v", h)
	}
	if len(pub.events) != 1 || !pub.events[0].Failed {
		t.Fatalf("expected one failed event, got %+v", pub.events)
	}
}

func TestSendMessageStream_OverrideDoesNotCallRemote(t *testing.T) {
	svc, _ := newTestService(t, forbiddenProvider{t: t}, 50)

	st, err := svc.SendMessageStream(context.Background(), "s1", "Which MODEL are you using", "")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	frags := collect(st)
	if len(frags) != 2 || frags[0].(Delta).Text != "gemini 1.5 flash" {
		t.Fatalf("unexpected override stream %+v", frags)
	}
}

func TestClearHistoryKeepsRole(t *testing.T) {
	svc, _ := newTestService(t, &scriptedProvider{complete: "ok"}, 50)
	ctx := context.Background()

	_, _ = svc.SendMessage(ctx, "s1", "hi", "teacher")
	if err := svc.ClearHistory(ctx, "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	msgs, role, err := svc.History(ctx, "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 0 || msgs == nil {
		t.Fatalf("expected empty history, got %#v", msgs)
	}
	if role != "teacher" {
		t.Fatalf("role = %q after clear", role)
	}
}

func TestSendMessageStream_ClosedEarlyKeepsBound(t *testing.T) {
	prov := &scriptedProvider{complete: "ok", chunks: []string{"a", "b", "c"}}
	svc, store := newTestService(t, prov, 2)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "s1", "first", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	st, err := svc.SendMessageStream(ctx, "s1", "second", "")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !st.Next() {
		t.Fatalf("expected a first fragment")
	}
	// consumer goes away before the terminal fragment
	_ = st.Close()

	h, _ := store.History(ctx, "s1")
	if len(h) > 2 {
		t.Fatalf("history length %d exceeds bound 2", len(h))
	}
	last := h[len(h)-1]
	if last.Role != RoleUser || last.Content != "second" {
		t.Fatalf("abandoned stream should leave only its user message, got %+v", h)
	}
	if prov.closed != 1 {
		t.Fatalf("remote stream closed %d times, want 1", prov.closed)
	}
}

// stalledPublisher blocks until its context gives up.
type stalledPublisher struct {
	hadDeadline bool
}

func (p *stalledPublisher) PublishExchange(ctx context.Context, ev ExchangeEvent) error {
	_, p.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func TestSendMessage_StalledPublisherDoesNotHoldReply(t *testing.T) {
	svc, _ := newTestService(t, &scriptedProvider{complete: "ok"}, 50)
	pub := &stalledPublisher{}
	svc.SetPublisher(pub)

	start := time.Now()
	reply, err := svc.SendMessage(context.Background(), "s1", "hi", "")
	if err != nil {
		t.Fatalf("publish failures must not surface, got %v", err)
	}
	if reply.Response != "ok" {
		t.Fatalf("reply = %q", reply.Response)
	}
	if !pub.hadDeadline {
		t.Fatalf("publish context has no deadline")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("reply held for %s by a stalled publisher", elapsed)
	}
}
