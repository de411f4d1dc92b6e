package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/suPer8Hu/gemini-chat/internal/ai"
	"github.com/suPer8Hu/gemini-chat/internal/config"
)

var testRole = config.Role{Name: "Helpful Assistant", SystemPrompt: "Be helpful."}

func deltasOf(frags []Fragment) string {
	var b strings.Builder
	for _, f := range frags {
		if d, ok := f.(Delta); ok {
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

func TestGenerateComplete(t *testing.T) {
	tests := []struct {
		name string
		prov *scriptedProvider
		want string
	}{
		{"trims", &scriptedProvider{complete: "  answer \n"}, "answer"},
		{"empty", &scriptedProvider{complete: "   "}, FallbackEmpty},
		{"failure", &scriptedProvider{openErr: errors.New("quota")}, FallbackFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStreamer(tt.prov, nil)
			if got := s.GenerateComplete(context.Background(), "p"); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStream_ConcatenationLaw(t *testing.T) {
	chunks := []string{"Hel", "lo", "", ", ", "wörld", "\n"}
	prov := &scriptedProvider{chunks: chunks}
	s := NewStreamer(prov, nil)

	frags := collect(s.GenerateStream(context.Background(), "p", "helpful_assistant", "Helpful Assistant"))
	if len(frags) != 6 {
		t.Fatalf("expected 5 deltas and a terminal, got %d: %+v", len(frags), frags)
	}
	done, ok := frags[len(frags)-1].(Done)
	if !ok {
		t.Fatalf("last fragment is %T, want Done", frags[len(frags)-1])
	}
	if done.Response != deltasOf(frags) || done.Response != "Hello, wörld\n" {
		t.Fatalf("done.Response %q != concatenation %q", done.Response, deltasOf(frags))
	}
	if done.RoleID != "helpful_assistant" || done.RoleName != "Helpful Assistant" {
		t.Fatalf("unexpected role on done: %+v", done)
	}
	if prov.closed != 1 {
		t.Fatalf("remote stream should be closed once, got %d", prov.closed)
	}
}

func TestStream_FailureBeforeFirstFragment(t *testing.T) {
	prov := &scriptedProvider{openErr: errors.New("connection refused")}
	st := NewStreamer(prov, nil).GenerateStream(context.Background(), "p", "r", "R")

	frags := collect(st)
	if len(frags) != 1 {
		t.Fatalf("expected only the error terminal, got %+v", frags)
	}
	se, ok := frags[0].(StreamError)
	if !ok {
		t.Fatalf("fragment is %T, want StreamError", frags[0])
	}
	if strings.Contains(se.Message, "connection refused") {
		t.Fatalf("internal error text leaked to client: %q", se.Message)
	}
	if st.Err() == nil {
		t.Fatalf("Err should report the remote failure")
	}
}

func TestStream_FailureMidStream(t *testing.T) {
	prov := &scriptedProvider{chunks: []string{"par", "tial"}, err: errors.New("reset")}
	frags := collect(NewStreamer(prov, nil).GenerateStream(context.Background(), "p", "r", "R"))

	if len(frags) != 3 {
		t.Fatalf("expected 2 deltas + error, got %+v", frags)
	}
	if _, ok := frags[2].(StreamError); !ok {
		t.Fatalf("terminal is %T, want StreamError", frags[2])
	}
	if prov.closed != 1 {
		t.Fatalf("remote stream should be closed, got %d", prov.closed)
	}
}

func TestStream_EmptyRemoteStreamUsesFallback(t *testing.T) {
	frags := collect(NewStreamer(&scriptedProvider{}, nil).GenerateStream(context.Background(), "p", "r", "R"))
	if len(frags) != 2 {
		t.Fatalf("expected fallback delta + done, got %+v", frags)
	}
	done := frags[1].(Done)
	if done.Response != FallbackEmpty || deltasOf(frags) != FallbackEmpty {
		t.Fatalf("unexpected fallback stream %+v", frags)
	}
}

func TestStream_IsNotRestartable(t *testing.T) {
	st := NewStreamer(&scriptedProvider{chunks: []string{"a"}}, nil).GenerateStream(context.Background(), "p", "r", "R")
	_ = collect(st)
	if st.Next() {
		t.Fatalf("exhausted stream must not yield again")
	}
	if st.Fragment() != nil {
		t.Fatalf("exhausted stream should have no current fragment")
	}
}

func TestStream_CloseMidStreamReleasesRemote(t *testing.T) {
	prov := &scriptedProvider{chunks: []string{"a", "b", "c"}}
	st := NewStreamer(prov, nil).GenerateStream(context.Background(), "p", "r", "R")

	if !st.Next() {
		t.Fatalf("expected a first fragment")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = st.Close()
	if prov.closed != 1 {
		t.Fatalf("remote stream closed %d times, want 1", prov.closed)
	}
	if st.Next() {
		t.Fatalf("closed stream must not yield")
	}
}

func TestStream_OverrideSkipsRemote(t *testing.T) {
	s := NewStreamer(forbiddenProvider{t: t}, nil)
	req := Request{Message: "which model are you using", RoleID: "r", Role: testRole}

	frags := collect(s.Stream(context.Background(), req))
	if len(frags) != 2 {
		t.Fatalf("expected delta + done, got %+v", frags)
	}
	if d := frags[0].(Delta); d.Text != ModelAnswer {
		t.Fatalf("delta = %q", d.Text)
	}
	if done := frags[1].(Done); done.Response != ModelAnswer || done.RoleName != testRole.Name {
		t.Fatalf("done = %+v", done)
	}

	if r := s.Complete(context.Background(), req); r.Text != ModelAnswer || !r.Overridden {
		t.Fatalf("complete = %+v", r)
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteSSE(&buf, Delta{Text: "hi \"there\""})
	_ = WriteSSE(&buf, Done{Response: "hi", RoleID: "r", RoleName: "R"})
	_ = WriteSSE(&buf, StreamError{Message: "oops"})

	events := strings.Split(strings.TrimSuffix(buf.String(), "\n\n"), "\n\n")
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %q", buf.String())
	}
	for _, ev := range events {
		if !strings.HasPrefix(ev, "data: ") || strings.Contains(ev, "\n") {
			t.Fatalf("bad framing %q", ev)
		}
	}

	var done map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(events[1], "data: ")), &done); err != nil {
		t.Fatalf("done payload: %v", err)
	}
	if done["done"] != true || done["response"] != "hi" || done["ai_role"] != "r" || done["role_name"] != "R" {
		t.Fatalf("unexpected done payload %v", done)
	}
	if events[2] != `data: {"error":"oops"}` {
		t.Fatalf("error event = %q", events[2])
	}
}

func TestGenerateComplete_MissingTextUsesEmptyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	prov := ai.NewOpenRouterProvider(srv.URL, "k", "openrouter/auto", "", "")
	if got := NewStreamer(prov, nil).GenerateComplete(context.Background(), "p"); got != FallbackEmpty {
		t.Fatalf("got %q, want %q", got, FallbackEmpty)
	}

	wrapped := &scriptedProvider{err: fmt.Errorf("gateway: %w", ai.ErrEmptyResponse)}
	if got := NewStreamer(wrapped, nil).GenerateComplete(context.Background(), "p"); got != FallbackEmpty {
		t.Fatalf("wrapped sentinel: got %q, want %q", got, FallbackEmpty)
	}
}

func TestStream_MissingTextIsEmptyCompletion(t *testing.T) {
	tests := []struct {
		name string
		prov *scriptedProvider
		want string
	}{
		{"on open", &scriptedProvider{openErr: ai.ErrEmptyResponse}, FallbackEmpty},
		{"after chunks", &scriptedProvider{chunks: []string{"partial"}, err: ai.ErrEmptyResponse}, "partial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frags := collect(NewStreamer(tt.prov, nil).GenerateStream(context.Background(), "p", "r", "R"))
			done, ok := frags[len(frags)-1].(Done)
			if !ok {
				t.Fatalf("last fragment is %T, want Done: %+v", frags[len(frags)-1], frags)
			}
			if done.Response != tt.want || deltasOf(frags) != tt.want {
				t.Fatalf("done = %+v, deltas = %q", done, deltasOf(frags))
			}
		})
	}
}

func TestStream_OnAbortOnlyBeforeTerminal(t *testing.T) {
	s := NewStreamer(&scriptedProvider{chunks: []string{"a", "b"}}, nil)

	aborted := 0
	st := s.GenerateStream(context.Background(), "p", "r", "R")
	st.OnAbort(func() { aborted++ })
	if !st.Next() {
		t.Fatalf("expected a first fragment")
	}
	_ = st.Close()
	_ = st.Close()
	if aborted != 1 {
		t.Fatalf("abort ran %d times, want 1", aborted)
	}

	aborted = 0
	st = s.GenerateStream(context.Background(), "p", "r", "R")
	st.OnAbort(func() { aborted++ })
	_ = collect(st)
	if aborted != 0 {
		t.Fatalf("abort must not run after Done, ran %d times", aborted)
	}

	aborted = 0
	override := s.Stream(context.Background(), Request{Message: "which model are you using", Role: testRole})
	override.OnAbort(func() { aborted++ })
	_ = override.Next()
	_ = override.Close()
	if aborted != 1 {
		t.Fatalf("override stream closed before Done should abort, ran %d times", aborted)
	}
}
