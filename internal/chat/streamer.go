package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/suPer8Hu/gemini-chat/internal/ai"
	"github.com/suPer8Hu/gemini-chat/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/suPer8Hu/gemini-chat/internal/chat"

// Request is everything the streamer needs to answer one user message.
type Request struct {
	Message string
	RoleID  string
	Role    config.Role
	Window  []Message
}

// Reply is a complete, non-empty answer.
type Reply struct {
	Text       string
	Overridden bool
}

// Streamer drives the remote generation capability in one-shot or streaming
// mode. Remote failures never escape it: they are logged and turned into a
// fallback string or an in-band StreamError.
type Streamer struct {
	provider ai.Provider
	logger   *slog.Logger
	tracer   trace.Tracer

	duration  metric.Float64Histogram
	failures  metric.Int64Counter
	overrides metric.Int64Counter
}

func NewStreamer(provider ai.Provider, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter(instrumentationName)
	// instrument errors only occur for invalid names; the returned
	// instruments are still safe to use.
	duration, _ := meter.Float64Histogram("chat.generation.duration",
		metric.WithDescription("Remote generation duration in milliseconds"),
		metric.WithUnit("ms"))
	failures, _ := meter.Int64Counter("chat.generation.failures",
		metric.WithDescription("Remote generation failures"))
	overrideCounter, _ := meter.Int64Counter("chat.intent_overrides",
		metric.WithDescription("Replies answered by a fixed intent override"))

	return &Streamer{
		provider:  provider,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		duration:  duration,
		failures:  failures,
		overrides: overrideCounter,
	}
}

// Complete answers req, short-circuiting intent overrides before any remote call.
func (s *Streamer) Complete(ctx context.Context, req Request) Reply {
	if answer, ok := MatchOverride(req.Message); ok {
		s.recordOverride(ctx, "complete")
		return Reply{Text: answer, Overridden: true}
	}
	return Reply{Text: s.GenerateComplete(ctx, BuildPrompt(req.Message, req.Role, req.Window))}
}

// Stream answers req as a fragment stream. Overrides are delivered as one
// Delta followed by Done, without contacting the remote capability.
func (s *Streamer) Stream(ctx context.Context, req Request) *Stream {
	if answer, ok := MatchOverride(req.Message); ok {
		s.recordOverride(ctx, "stream")
		return &Stream{
			roleID:   req.RoleID,
			roleName: req.Role.Name,
			queue: []Fragment{
				Delta{Text: answer},
				Done{Response: answer, RoleID: req.RoleID, RoleName: req.Role.Name},
			},
			finished:   true,
			overridden: true,
		}
	}
	return s.GenerateStream(ctx, BuildPrompt(req.Message, req.Role, req.Window), req.RoleID, req.Role.Name)
}

// GenerateComplete returns the trimmed remote reply, FallbackEmpty when the
// reply is empty or missing, or FallbackFailure when the remote call fails.
func (s *Streamer) GenerateComplete(ctx context.Context, prompt string) string {
	ctx, span := s.tracer.Start(ctx, "generate_complete")
	defer span.End()
	start := time.Now()

	text, err := s.provider.Generate(ctx, prompt)
	s.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("mode", "complete")))
	if err != nil && !errors.Is(err, ai.ErrEmptyResponse) {
		s.recordFailure(ctx, span, "complete", err)
		return FallbackFailure
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Warn("empty response from generator")
		span.SetAttributes(attribute.Bool("chat.empty_response", true))
		return FallbackEmpty
	}
	span.SetAttributes(attribute.Int("chat.response_chars", len(text)))
	s.logger.Info("generated response", "chars", len(text))
	return text
}

// GenerateStream returns a lazy fragment stream. The remote call is opened on
// the first Next.
func (s *Streamer) GenerateStream(ctx context.Context, prompt, roleID, roleName string) *Stream {
	return &Stream{
		ctx:      ctx,
		streamer: s,
		roleID:   roleID,
		roleName: roleName,
		open: func(ctx context.Context) (ai.ChunkStream, error) {
			return ai.Stream(ctx, s.provider, prompt)
		},
	}
}

func (s *Streamer) recordOverride(ctx context.Context, mode string) {
	s.overrides.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (s *Streamer) recordFailure(ctx context.Context, span trace.Span, mode string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "generation failed")
	s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	s.logger.Error("generation failed", "mode", mode, "error", err)
}

// Stream is a single-use, pull-driven sequence of fragments. It is not safe
// for concurrent use and cannot be restarted: once Next returns false the
// stream is exhausted.
//
//	defer st.Close()
//	for st.Next() {
//		write(st.Fragment())
//	}
type Stream struct {
	ctx      context.Context
	streamer *Streamer
	open     func(ctx context.Context) (ai.ChunkStream, error)
	src      ai.ChunkStream
	roleID   string
	roleName string

	buf        strings.Builder
	queue      []Fragment
	cur        Fragment
	finished   bool
	overridden bool
	err        error

	span  trace.Span
	start time.Time

	onDone  func(Done)
	onError func(error)
	onAbort func()

	// terminated is set once a Done or StreamError has been handed out.
	terminated bool
}

// Next advances to the next fragment, blocking on the remote side when needed.
func (s *Stream) Next() bool {
	if len(s.queue) > 0 {
		s.cur, s.queue = s.queue[0], s.queue[1:]
		s.notify(s.cur)
		return true
	}
	if s.finished {
		s.cur = nil
		return false
	}

	if s.src == nil {
		var ctx context.Context
		ctx, s.span = s.streamer.tracer.Start(s.ctx, "generate_stream")
		s.start = time.Now()
		src, err := s.open(ctx)
		if errors.Is(err, ai.ErrEmptyResponse) {
			s.complete()
			return s.Next()
		}
		if err != nil {
			s.fail(err)
			return s.Next()
		}
		s.src = src
	}

	for {
		chunk, err := s.src.Recv()
		if errors.Is(err, io.EOF) || errors.Is(err, ai.ErrEmptyResponse) {
			s.complete()
			return s.Next()
		}
		if err != nil {
			s.fail(err)
			return s.Next()
		}
		if chunk == "" {
			continue
		}
		s.buf.WriteString(chunk)
		s.cur = Delta{Text: chunk}
		return true
	}
}

// Fragment returns the fragment produced by the last successful Next.
func (s *Stream) Fragment() Fragment { return s.cur }

// Err returns the remote failure behind a StreamError terminal, if any.
func (s *Stream) Err() error { return s.err }

// Overridden reports whether the stream carries a fixed intent-override answer.
func (s *Stream) Overridden() bool { return s.overridden }

// Close releases the remote stream. Safe to call at any point and more than once.
func (s *Stream) Close() error {
	s.finished = true
	s.queue = nil
	if !s.terminated {
		s.terminated = true
		if s.onAbort != nil {
			s.onAbort()
		}
	}
	return s.release()
}

// OnDone registers fn to run when the Done terminal is handed to the consumer.
func (s *Stream) OnDone(fn func(Done)) { s.onDone = fn }

// OnError registers fn to run when a StreamError terminal is handed to the consumer.
func (s *Stream) OnError(fn func(error)) { s.onError = fn }

// OnAbort registers fn to run when the stream is closed before any terminal
// fragment was handed to the consumer.
func (s *Stream) OnAbort(fn func()) { s.onAbort = fn }

func (s *Stream) notify(f Fragment) {
	switch v := f.(type) {
	case Done:
		s.terminated = true
		if s.onDone != nil {
			s.onDone(v)
		}
	case StreamError:
		s.terminated = true
		if s.onError != nil {
			s.onError(s.err)
		}
	}
}

func (s *Stream) release() error {
	var err error
	if s.src != nil {
		err = s.src.Close()
		s.src = nil
	}
	if s.span != nil {
		s.span.End()
		s.span = nil
	}
	return err
}

func (s *Stream) complete() {
	full := s.buf.String()
	if s.span != nil {
		s.streamer.duration.Record(s.ctx, float64(time.Since(s.start).Milliseconds()),
			metric.WithAttributes(attribute.String("mode", "stream")))
		s.span.SetAttributes(attribute.Int("chat.response_chars", len(full)))
	}
	if full == "" {
		// never finish a stream with an empty answer
		s.streamer.logger.Warn("empty stream from generator")
		full = FallbackEmpty
		s.queue = append(s.queue, Delta{Text: full})
	}
	s.queue = append(s.queue, Done{Response: full, RoleID: s.roleID, RoleName: s.roleName})
	s.finished = true
	_ = s.release()
}

func (s *Stream) fail(err error) {
	s.err = err
	if s.span != nil {
		s.streamer.recordFailure(s.ctx, s.span, "stream", err)
	} else {
		s.streamer.logger.Error("generation failed", "mode", "stream", "error", err)
	}
	s.queue = append(s.queue, StreamError{Message: FallbackFailure})
	s.finished = true
	_ = s.release()
}
