package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/lagz0ne/claude-web/internal/agent"
	"github.com/lagz0ne/claude-web/internal/model"
)

// invalidJSON is the error message sent for undecodable frames.
const invalidJSON = "Invalid JSON"

// DeniedByUser is the reason given to the agent when a tool call is rejected.
const DeniedByUser = "User denied this action"

// Publisher fans a frame out to every connected client.
type Publisher interface {
	Publish(data []byte)
}

// Engine is the set of session operations reachable from the wire.
type Engine interface {
	Create(ctx context.Context, cwd, prompt string) (string, error)
	ResumeSession(ctx context.Context, sessionID string) error
	SendMessage(sessionID, text string) error
	RespondPermission(sessionID, toolUseID string, decision agent.Decision) error
	ListSessions(ctx context.Context) ([]model.SessionInfo, error)
	KillSession(ctx context.Context, sessionID string) error
}

var errNoEngine = errors.New("session engine is not ready")

// Router turns client frames into engine operations and engine
// notifications into server events. Every failure becomes one error event.
type Router struct {
	pub Publisher

	mu     sync.RWMutex
	engine Engine
}

// NewRouter creates a router publishing through pub. The engine is attached
// later with SetEngine because the engine notifies through the router.
func NewRouter(pub Publisher) *Router {
	return &Router{pub: pub}
}

// SetEngine attaches the engine that commands are routed to.
func (r *Router) SetEngine(e Engine) {
	r.mu.Lock()
	r.engine = e
	r.mu.Unlock()
}

func (r *Router) currentEngine() Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine
}

// Handle processes one inbound frame.
func (r *Router) Handle(ctx context.Context, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Msg("Undecodable client frame")
		r.publishError(invalidJSON)
		return
	}

	if err := r.dispatch(ctx, &msg); err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Str("sessionId", msg.SessionID).Msg("Client command failed")
		r.publishError(err.Error())
	}
}

func (r *Router) dispatch(ctx context.Context, msg *ClientMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	engine := r.currentEngine()
	if engine == nil {
		return errNoEngine
	}

	switch msg.Type {
	case TypeCreateSession:
		_, err := engine.Create(ctx, msg.Cwd, msg.Prompt)
		return err
	case TypeResumeSession:
		return engine.ResumeSession(ctx, msg.SessionID)
	case TypeSendMessage:
		return engine.SendMessage(msg.SessionID, msg.Text)
	case TypePermissionResponse:
		decision := agent.Deny(DeniedByUser)
		if *msg.Allow {
			decision = agent.Allow(msg.UpdatedInput)
		}
		return engine.RespondPermission(msg.SessionID, msg.ToolUseID, decision)
	case TypeAskUserResponse:
		input, err := json.Marshal(struct {
			Questions json.RawMessage `json:"questions"`
			Answers   json.RawMessage `json:"answers"`
		}{msg.Questions, msg.Answers})
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrMalformedRequest, err)
		}
		return engine.RespondPermission(msg.SessionID, msg.ToolUseID, agent.Allow(input))
	case TypeListSessions:
		sessions, err := engine.ListSessions(ctx)
		if err != nil {
			return err
		}
		r.publish(SessionListEvent{Type: TypeSessionList, Sessions: sessions})
		return nil
	case TypeKillSession:
		return engine.KillSession(ctx, msg.SessionID)
	}
	return nil
}

// SessionCreated announces a new or resumed session.
func (r *Router) SessionCreated(sessionID, cwd string) {
	r.publish(SessionCreatedEvent{Type: TypeSessionCreated, SessionID: sessionID, Cwd: cwd})
}

// SessionEnded announces a finalized session.
func (r *Router) SessionEnded(sessionID string) {
	r.publish(SessionEndedEvent{Type: TypeSessionEnded, SessionID: sessionID})
}

// AgentMessage relays an agent event verbatim.
func (r *Router) AgentMessage(sessionID string, message json.RawMessage) {
	r.publish(SDKMessageEvent{Type: TypeSDKMessage, SessionID: sessionID, Message: message})
}

// PermissionRequested asks clients to decide on a tool call. Questions from
// the agent are presented as an ask_user_question form.
func (r *Router) PermissionRequested(sessionID string, req agent.PermissionRequest) {
	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	fields := gjson.ParseBytes(input)

	if req.ToolName == AskUserQuestionTool {
		questions := json.RawMessage(`[]`)
		if q := fields.Get("questions"); q.IsArray() {
			questions = json.RawMessage(q.Raw)
		}
		r.publish(AskUserQuestionEvent{
			Type:      TypeAskUserQuestion,
			SessionID: sessionID,
			Questions: questions,
			ToolUseID: req.ToolUseID,
		})
		return
	}

	r.publish(PermissionRequestEvent{
		Type:        TypePermissionRequest,
		SessionID:   sessionID,
		ToolName:    req.ToolName,
		Input:       input,
		ToolUseID:   req.ToolUseID,
		Description: fields.Get("description").String(),
	})
}

// Error reports a failure that did not originate from a client command.
func (r *Router) Error(err error) {
	r.publishError(err.Error())
}

func (r *Router) publishError(message string) {
	r.publish(ErrorEvent{Type: TypeError, Message: message})
}

func (r *Router) publish(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode server event")
		return
	}
	r.pub.Publish(data)
}
