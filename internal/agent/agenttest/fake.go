// Package agenttest provides a scripted in-memory agent for tests.
package agenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lagz0ne/claude-web/internal/agent"
)

// Factory records every stream it starts. When Script is set it runs in its
// own goroutine for each new stream.
type Factory struct {
	Script   func(s *Stream)
	StartErr error

	mu      sync.Mutex
	streams []*Stream
	started chan *Stream
}

// NewFactory returns a factory whose streams are driven by script, which may be nil.
func NewFactory(script func(s *Stream)) *Factory {
	return &Factory{Script: script, started: make(chan *Stream, 64)}
}

// Start implements agent.Factory.
func (f *Factory) Start(ctx context.Context, opts agent.Options) (agent.Stream, error) {
	if f.StartErr != nil {
		return nil, f.StartErr
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		Opts:     opts,
		ctx:      streamCtx,
		cancel:   cancel,
		events:   make(chan json.RawMessage, 256),
		finished: make(chan struct{}),
	}

	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()

	select {
	case f.started <- s:
	default:
	}

	if f.Script != nil {
		go f.Script(s)
	}
	return s, nil
}

// Streams returns every stream started so far.
func (f *Factory) Streams() []*Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Stream(nil), f.streams...)
}

// StartCount reports how many streams were started.
func (f *Factory) StartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// WaitStart returns the next started stream or fails after timeout.
func (f *Factory) WaitStart(timeout time.Duration) (*Stream, error) {
	select {
	case s := <-f.started:
		return s, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no agent stream started within %s", timeout)
	}
}

// Stream is a scripted agent.Stream.
type Stream struct {
	Opts agent.Options

	ctx    context.Context
	cancel context.CancelFunc
	events chan json.RawMessage

	finishOnce sync.Once
	finished   chan struct{}
	finishErr  error
}

// Recv implements agent.Stream. Emitted events drain before a Finish error.
func (s *Stream) Recv() (json.RawMessage, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.finished:
		select {
		case ev := <-s.events:
			return ev, nil
		default:
			return nil, s.finishErr
		}
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// Close implements agent.Stream.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}

// Context is cancelled when the stream is closed or its parent is cancelled.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Emit queues one raw event.
func (s *Stream) Emit(event string) {
	select {
	case s.events <- json.RawMessage(event):
	case <-s.ctx.Done():
	}
}

// Finish ends the stream after queued events drain. A nil err ends normally.
func (s *Stream) Finish(err error) {
	s.finishOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		s.finishErr = err
		close(s.finished)
	})
}

// NextTurn pulls the next human turn from the stream input.
func (s *Stream) NextTurn(timeout time.Duration) (agent.UserTurn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return s.Opts.Input.Next(ctx)
}

// RequestPermission asks the permission callback about a tool call and
// blocks until it is answered.
func (s *Stream) RequestPermission(toolName, toolUseID, input string) (agent.Decision, error) {
	if s.Opts.CanUseTool == nil {
		return agent.Decision{}, fmt.Errorf("stream has no permission callback")
	}
	return s.Opts.CanUseTool(s.ctx, agent.PermissionRequest{
		ToolName:  toolName,
		Input:     json.RawMessage(input),
		ToolUseID: toolUseID,
	})
}

// Echo answers every turn with an assistant event carrying the turn text,
// until the stream is cancelled.
func Echo(s *Stream) {
	s.Emit(fmt.Sprintf(`{"type":"system","subtype":"init","session_id":%q}`, s.Opts.SessionID))
	for {
		turn, err := s.Opts.Input.Next(s.ctx)
		if err != nil {
			return
		}
		s.Emit(fmt.Sprintf(`{"type":"assistant","message":{"role":"assistant","content":%q}}`, turn.Message.Content))
	}
}

// ReplyOnce waits for the first turn, emits events and ends the stream normally.
func ReplyOnce(events ...string) func(s *Stream) {
	return func(s *Stream) {
		if _, err := s.Opts.Input.Next(s.ctx); err != nil {
			return
		}
		for _, ev := range events {
			s.Emit(ev)
		}
		s.Finish(nil)
	}
}
