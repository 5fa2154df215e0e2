package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lagz0ne/claude-web/internal/agent"
	"github.com/lagz0ne/claude-web/internal/model"
)

// State is a session's position in its lifecycle.
type State string

const (
	// StateCreated means the session exists but its stream waits for a first turn.
	StateCreated State = "created"
	// StateStarting means the agent stream is being launched.
	StateStarting State = "starting"
	// StateStreaming means the message loop is consuming agent events.
	StateStreaming State = "streaming"
	// StateEnding means the session is being finalized.
	StateEnding State = "ending"
	// StateEnded means the session is finalized and deregistered.
	StateEnded State = "ended"
)

// Session is one live conversation with the agent.
type Session struct {
	ID        string
	Cwd       string
	CreatedAt time.Time

	queue       *InputQueue
	permissions *PermissionBroker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	state        State
	stream       agent.Stream
	pendingStart func(first agent.UserTurn)
	messages     []json.RawMessage
	skipPersist  int
	baseCount    int

	finishOnce sync.Once
}

func newSession(parent context.Context, id, cwd string, createdAt time.Time) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:          id,
		Cwd:         cwd,
		CreatedAt:   createdAt,
		queue:       NewInputQueue(),
		permissions: NewPermissionBroker(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       StateCreated,
		messages:    []json.RawMessage{},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Done is closed once the session has been finalized.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// MessageCount returns the number of transcript events known for the session.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(len(s.messages), s.baseCount)
}

// Messages returns a snapshot of the in-memory transcript.
func (s *Session) Messages() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage{}, s.messages...)
}

// PendingPermissions reports how many tool calls await a decision.
func (s *Session) PendingPermissions() int {
	return s.permissions.Len()
}

// Info returns the listing view of an active session.
func (s *Session) Info() model.SessionInfo {
	return model.SessionInfo{
		ID:           s.ID,
		Cwd:          s.Cwd,
		CreatedAt:    s.CreatedAt.UnixMilli(),
		MessageCount: s.MessageCount(),
		Status:       model.SessionStatusActive,
	}
}

// takePendingStart returns the deferred start, clearing it so it runs once.
func (s *Session) takePendingStart() func(first agent.UserTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.pendingStart
	s.pendingStart = nil
	return start
}

// record appends ev to the in-memory transcript and reports whether it
// still needs persisting. Events the agent replays on resume do not.
func (s *Session) record(ev json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, ev)
	if s.skipPersist > 0 {
		s.skipPersist--
		return false
	}
	return true
}

// stop cancels the session's stream.
func (s *Session) stop() error {
	s.cancel()

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream != nil {
		return stream.Close()
	}
	return nil
}
