package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/suPer8Hu/gemini-chat/internal/ai"
)

// scriptedProvider replays fixed chunks, optionally failing after them.
type scriptedProvider struct {
	mu       sync.Mutex
	chunks   []string
	err      error // returned after chunks
	openErr  error // returned before any chunk
	prompts  []string
	closed   int
	complete string
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if p.openErr != nil {
		return "", p.openErr
	}
	return p.complete, p.err
}

func (p *scriptedProvider) GenerateStream(ctx context.Context, prompt string) (ai.ChunkStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &scriptedStream{p: p, chunks: append([]string(nil), p.chunks...), err: p.err}, nil
}

func (p *scriptedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

type scriptedStream struct {
	p      *scriptedProvider
	chunks []string
	err    error
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return c, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error {
	s.p.mu.Lock()
	s.p.closed++
	s.p.mu.Unlock()
	return nil
}

// forbiddenProvider fails the test if the remote capability is contacted.
type forbiddenProvider struct{ t *testing.T }

func (p forbiddenProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.t.Fatalf("remote generation must not be called, prompt=%q", prompt)
	return "", errors.New("unreachable")
}

func (p forbiddenProvider) GenerateStream(ctx context.Context, prompt string) (ai.ChunkStream, error) {
	p.t.Fatalf("remote stream must not be opened, prompt=%q", prompt)
	return nil, errors.New("unreachable")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ExchangeEvent
}

func (p *recordingPublisher) PublishExchange(ctx context.Context, ev ExchangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// collect drains st and returns every fragment in emission order.
func collect(st *Stream) []Fragment {
	defer st.Close()
	var out []Fragment
	for st.Next() {
		out = append(out, st.Fragment())
	}
	return out
}
