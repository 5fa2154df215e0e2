// Package session owns the lifecycle of agent sessions: the registry of
// active sessions, each session's input queue and permission broker, and the
// message loop that records and announces agent events.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lagz0ne/claude-web/internal/agent"
	"github.com/lagz0ne/claude-web/internal/metrics"
	"github.com/lagz0ne/claude-web/internal/model"
)

// DefaultGreeting is the first turn of a session created without a prompt
// when no default prompt is configured.
const DefaultGreeting = "Hello"

// ErrShuttingDown is returned by operations attempted after Shutdown.
var ErrShuttingDown = errors.New("session engine is shutting down")

// Store is the durable record of session metadata and transcripts.
type Store interface {
	SaveSessionMeta(ctx context.Context, meta *model.SessionMeta) error
	LoadSessionsMeta(ctx context.Context) (map[string]*model.SessionMeta, error)
	SessionMeta(ctx context.Context, id string) (*model.SessionMeta, error)
	AppendMessage(id string, event json.RawMessage) error
	LoadMessages(id string) ([]json.RawMessage, error)
	UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus, messageCount *int) error
	EndStaleSessions(ctx context.Context) (int, error)
}

// Notifier announces session activity to connected clients.
type Notifier interface {
	SessionCreated(sessionID, cwd string)
	SessionEnded(sessionID string)
	AgentMessage(sessionID string, message json.RawMessage)
	PermissionRequested(sessionID string, req agent.PermissionRequest)
	Error(err error)
}

// Policy holds operator settings read at the moment a session starts.
type Policy interface {
	// BypassPermissions lets the agent run every tool without prompting.
	BypassPermissions() bool
	// DeferStart keeps prompt-less sessions idle until their first turn.
	DeferStart() bool
	// DefaultPrompt is the first turn of a session created without one.
	DefaultPrompt() string
}

// StaticPolicy is a fixed Policy.
type StaticPolicy struct {
	Bypass bool
	Defer  bool
	Prompt string
}

func (p StaticPolicy) BypassPermissions() bool { return p.Bypass }
func (p StaticPolicy) DeferStart() bool        { return p.Defer }
func (p StaticPolicy) DefaultPrompt() string   { return p.Prompt }

// Config holds the engine's collaborators.
type Config struct {
	Factory  agent.Factory
	Store    Store
	Notifier Notifier
	Policy   Policy
	Metrics  *metrics.Metrics
}

// Engine runs agent sessions.
type Engine struct {
	factory  agent.Factory
	store    Store
	notifier Notifier
	policy   Policy
	metrics  *metrics.Metrics
	registry *Registry

	// startMu orders stream starts against Shutdown so no loop is added
	// to wg once Shutdown is waiting on it.
	startMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. Notifier and Policy default to no-ops.
func NewEngine(cfg Config) *Engine {
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Policy == nil {
		cfg.Policy = StaticPolicy{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		factory:  cfg.Factory,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		policy:   cfg.Policy,
		metrics:  cfg.Metrics,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry exposes the set of active sessions.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Reconcile marks sessions left active by a previous process as ended. It
// must run before any client traffic is accepted.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	n, err := e.store.EndStaleSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile sessions: %w", err)
	}
	if n > 0 {
		log.Info().Int("sessions", n).Msg("Marked stale sessions as ended")
	}
	return n, nil
}

// Create starts a new session in cwd and returns its id. Unless start is
// deferred, the agent stream starts immediately with prompt, or the default
// prompt when prompt is empty.
func (e *Engine) Create(ctx context.Context, cwd, prompt string) (string, error) {
	if e.ctx.Err() != nil {
		return "", ErrShuttingDown
	}

	req := model.CreateSessionRequest{Cwd: cwd, Prompt: prompt}
	if err := req.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	s := newSession(e.ctx, uuid.New().String(), cwd, now)
	if err := e.registry.Register(s); err != nil {
		s.cancel()
		return "", err
	}

	meta := &model.SessionMeta{
		ID:            s.ID,
		Cwd:           cwd,
		Status:        model.SessionStatusActive,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := e.store.SaveSessionMeta(ctx, meta); err != nil {
		e.registry.Detach(s)
		s.cancel()
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	log.Info().Str("sessionId", s.ID).Str("cwd", cwd).Msg("Session created")
	e.notifier.SessionCreated(s.ID, cwd)

	start := func(first agent.UserTurn) {
		e.startStream(s, &first, false)
	}

	if prompt == "" && e.policy.DeferStart() {
		s.mu.Lock()
		s.pendingStart = start
		s.mu.Unlock()
		return s.ID, nil
	}

	if prompt == "" {
		prompt = e.policy.DefaultPrompt()
	}
	if prompt == "" {
		prompt = DefaultGreeting
	}
	start(agent.NewUserTurn(s.ID, prompt))

	return s.ID, nil
}

// SendMessage delivers a human turn. The first turn of a deferred session
// starts its stream.
func (e *Engine) SendMessage(sessionID, text string) error {
	if e.ctx.Err() != nil {
		return ErrShuttingDown
	}
	s, ok := e.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, sessionID)
	}

	turn := agent.NewUserTurn(sessionID, text)
	if start := s.takePendingStart(); start != nil {
		start(turn)
		return nil
	}
	// A concurrent kill may have taken the deferred start.
	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, sessionID)
	}

	s.queue.Push(turn)
	return nil
}

// RespondPermission resolves a pending tool permission request.
func (e *Engine) RespondPermission(sessionID, toolUseID string, decision agent.Decision) error {
	s, ok := e.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, sessionID)
	}
	return s.permissions.Resolve(toolUseID, decision)
}

// KillSession cancels an active session and waits until it is finalized.
func (e *Engine) KillSession(ctx context.Context, sessionID string) error {
	s, ok := e.registry.Remove(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, sessionID)
	}

	log.Info().Str("sessionId", sessionID).Msg("Killing session")

	if err := s.stop(); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to close agent stream")
	}
	if start := s.takePendingStart(); start != nil {
		e.finish(s)
	}

	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResumeSession restarts the agent stream of an ended session. The agent
// replays its own history; replayed events are announced but not persisted
// again.
func (e *Engine) ResumeSession(ctx context.Context, sessionID string) error {
	if e.ctx.Err() != nil {
		return ErrShuttingDown
	}
	if err := model.ValidateID(sessionID); err != nil {
		return err
	}
	if _, ok := e.registry.Get(sessionID); ok {
		return fmt.Errorf("%w: %s", model.ErrSessionAlreadyActive, sessionID)
	}

	meta, err := e.store.SessionMeta(ctx, sessionID)
	if err != nil {
		return err
	}

	existing, err := e.store.LoadMessages(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}

	s := newSession(e.ctx, sessionID, meta.Cwd, meta.CreatedAt)
	s.skipPersist = len(existing)
	s.baseCount = len(existing)

	// Registered before the stream exists so a racing SendMessage finds it.
	if err := e.registry.Register(s); err != nil {
		s.cancel()
		return err
	}

	meta.Status = model.SessionStatusActive
	meta.LastMessageAt = time.Now()
	meta.MessageCount = len(existing)
	if err := e.store.SaveSessionMeta(ctx, meta); err != nil {
		e.registry.Detach(s)
		s.cancel()
		return fmt.Errorf("failed to persist session: %w", err)
	}

	log.Info().Str("sessionId", sessionID).Int("replayed", len(existing)).Msg("Session resumed")
	e.notifier.SessionCreated(sessionID, meta.Cwd)

	e.startStream(s, nil, true)
	return nil
}

// ListSessions merges persisted sessions with active ones, newest first.
// Active sessions win and report their live message count.
func (e *Engine) ListSessions(ctx context.Context) ([]model.SessionInfo, error) {
	metas, err := e.store.LoadSessionsMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	byID := make(map[string]model.SessionInfo, len(metas))
	for id, meta := range metas {
		byID[id] = meta.Info()
	}
	for _, s := range e.registry.All() {
		byID[s.ID] = s.Info()
	}

	list := make([]model.SessionInfo, 0, len(byID))
	for _, info := range byID {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt > list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Messages returns the live transcript of an active session, or the
// persisted transcript otherwise.
func (e *Engine) Messages(sessionID string) ([]json.RawMessage, error) {
	if s, ok := e.registry.Get(sessionID); ok {
		return s.Messages(), nil
	}
	return e.store.LoadMessages(sessionID)
}

// Shutdown cancels every session and waits for their loops to finalize.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.startMu.Lock()
	e.cancel()
	e.startMu.Unlock()

	for _, s := range e.registry.All() {
		if start := s.takePendingStart(); start != nil {
			e.finish(s)
		}
	}
	closeErr := e.registry.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startStream launches the agent stream for s and its message loop.
func (e *Engine) startStream(s *Session, first *agent.UserTurn, resume bool) {
	e.startMu.Lock()
	if e.ctx.Err() != nil {
		e.startMu.Unlock()
		e.finish(s)
		return
	}
	e.wg.Add(1)
	e.startMu.Unlock()

	s.setState(StateStarting)
	if first != nil {
		s.queue.Push(*first)
	}

	opts := agent.Options{
		SessionID:              s.ID,
		Cwd:                    s.Cwd,
		Resume:                 resume,
		IncludePartialMessages: true,
		Input:                  s.queue,
	}
	if e.policy.BypassPermissions() {
		opts.BypassPermissions = true
	} else {
		opts.CanUseTool = e.permissionGate(s)
	}

	stream, err := e.factory.Start(s.ctx, opts)
	if err != nil {
		defer e.wg.Done()
		if s.ctx.Err() == nil {
			e.streamFailed(s, err)
		}
		e.finish(s)
		return
	}

	s.mu.Lock()
	s.stream = stream
	s.state = StateStreaming
	s.mu.Unlock()

	mode := "new"
	if resume {
		mode = "resume"
	}
	e.metrics.SessionStarted(mode)

	go e.runLoop(s, stream)
}

// runLoop consumes agent events until the stream ends, then finalizes s.
func (e *Engine) runLoop(s *Session, stream agent.Stream) {
	defer e.wg.Done()
	defer e.metrics.SessionEnded()
	defer e.finish(s)
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
				return
			}
			e.streamFailed(s, err)
			return
		}

		if s.record(ev) {
			if err := e.store.AppendMessage(s.ID, ev); err != nil {
				log.Warn().Err(err).Str("sessionId", s.ID).Msg("Failed to persist agent message")
			}
		}
		e.metrics.AgentMessage()
		e.notifier.AgentMessage(s.ID, ev)
	}
}

func (e *Engine) streamFailed(s *Session, err error) {
	e.metrics.StreamFailed()
	log.Error().Err(err).Str("sessionId", s.ID).Msg("Agent stream failed")
	e.notifier.Error(fmt.Errorf("session %s: %w: %v", s.ID, model.ErrAgentStreamFailure, err))
}

// finish deregisters s, denies its pending permissions, marks it ended and
// announces the end. It runs once per session.
func (e *Engine) finish(s *Session) {
	s.finishOnce.Do(func() {
		s.setState(StateEnding)
		s.cancel()
		e.registry.Detach(s)
		s.permissions.Close()

		count := s.MessageCount()
		if err := e.store.UpdateSessionStatus(context.Background(), s.ID, model.SessionStatusEnded, &count); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID).Msg("Failed to mark session ended")
		}

		s.setState(StateEnded)
		log.Info().Str("sessionId", s.ID).Int("messages", count).Msg("Session ended")
		e.notifier.SessionEnded(s.ID)
		close(s.done)
	})
}

// permissionGate routes the agent's tool permission requests through the
// session's broker and waits for a client decision.
func (e *Engine) permissionGate(s *Session) agent.PermissionFunc {
	return func(ctx context.Context, req agent.PermissionRequest) (agent.Decision, error) {
		decision, err := s.permissions.Register(req)
		if errors.Is(err, errBrokerClosed) {
			return agent.Deny(teardownReason), nil
		}
		if err != nil {
			return agent.Decision{}, err
		}

		log.Debug().Str("sessionId", s.ID).Str("toolUseId", req.ToolUseID).Str("tool", req.ToolName).Msg("Permission requested")
		e.metrics.PermissionRequested(req.ToolName)
		e.notifier.PermissionRequested(s.ID, req)

		select {
		case d := <-decision:
			e.metrics.PermissionDecided(string(d.Behavior))
			return d, nil
		case <-ctx.Done():
			s.permissions.Cancel(req.ToolUseID)
			return agent.Decision{}, ctx.Err()
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) SessionCreated(string, string)                       {}
func (nopNotifier) SessionEnded(string)                                 {}
func (nopNotifier) AgentMessage(string, json.RawMessage)                {}
func (nopNotifier) PermissionRequested(string, agent.PermissionRequest) {}
func (nopNotifier) Error(error)                                         {}
