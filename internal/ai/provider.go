package ai

import (
	"context"
	"errors"
	"io"
)

var ErrEmptyResponse = errors.New("ai: empty response")

// Provider generates a complete reply for a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StreamProvider is an optional interface. Providers may implement incremental generation.
type StreamProvider interface {
	GenerateStream(ctx context.Context, prompt string) (ChunkStream, error)
}

// ChunkStream is a pull-driven sequence of text chunks from a remote generator.
// Recv returns io.EOF once the remote side has finished. Close releases the
// underlying connection and is safe to call more than once.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// Stream opens an incremental generation on p. Providers without native
// streaming are adapted into a single-chunk stream.
func Stream(ctx context.Context, p Provider, prompt string) (ChunkStream, error) {
	if sp, ok := p.(StreamProvider); ok {
		return sp.GenerateStream(ctx, prompt)
	}
	text, err := p.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &onceStream{text: text}, nil
}

type onceStream struct {
	text string
	sent bool
}

func (s *onceStream) Recv() (string, error) {
	if s.sent {
		return "", io.EOF
	}
	s.sent = true
	return s.text, nil
}

func (s *onceStream) Close() error {
	s.sent = true
	return nil
}
