package ai

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// lineStream reads a streamed HTTP body line by line and hands each
// non-empty line to decode, which returns the text chunk it carries.
// decode returns io.EOF when the line marks the end of the stream.
type lineStream struct {
	body   io.ReadCloser
	sc     *bufio.Scanner
	decode func(line string) (string, error)

	closeOnce sync.Once
	closeErr  error
	done      bool
}

func newLineStream(body io.ReadCloser, decode func(line string) (string, error)) *lineStream {
	sc := bufio.NewScanner(body)
	// Increase scanner buffer for long JSON lines.
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)
	return &lineStream{body: body, sc: sc, decode: decode}
}

func (s *lineStream) Recv() (string, error) {
	for !s.done {
		if !s.sc.Scan() {
			s.done = true
			if err := s.sc.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		line := strings.TrimSpace(s.sc.Text())
		if line == "" {
			continue
		}
		chunk, err := s.decode(line)
		if err != nil {
			s.done = true
			return "", err
		}
		if chunk != "" {
			return chunk, nil
		}
	}
	return "", io.EOF
}

func (s *lineStream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// sseData extracts the payload of an SSE "data:" line. ok is false for
// comments, event names and other fields.
func sseData(line string) (data string, ok bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
