// Package agent defines the boundary to the agent execution engine: a
// bidirectional stream of agent-protocol events fed by human turns and
// gated by a tool permission callback.
package agent

import (
	"context"
	"encoding/json"
)

// Stream is a live agent conversation.
type Stream interface {
	// Recv returns the next agent event. It returns io.EOF when the agent
	// finished normally and the context error when the stream was cancelled.
	Recv() (json.RawMessage, error)

	// Close cancels the stream and releases its resources.
	Close() error
}

// Factory starts agent streams.
type Factory interface {
	Start(ctx context.Context, opts Options) (Stream, error)
}

// TurnSource yields human turns to the agent. Next blocks until a turn is
// available or ctx is done.
type TurnSource interface {
	Next(ctx context.Context) (UserTurn, error)
}

// Options configures one agent stream.
type Options struct {
	SessionID string
	Cwd       string

	// Resume asks the agent to continue the conversation it already holds
	// for SessionID instead of starting a new one.
	Resume bool

	IncludePartialMessages bool

	// BypassPermissions lets the agent run every tool without asking.
	// CanUseTool is ignored when set.
	BypassPermissions bool
	CanUseTool        PermissionFunc

	Input TurnSource
}

// UserMessage is the message body of a human turn.
type UserMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserTurn is one human-authored message in the agent's input format.
type UserTurn struct {
	Type            string      `json:"type"`
	Message         UserMessage `json:"message"`
	ParentToolUseID *string     `json:"parent_tool_use_id"`
	SessionID       string      `json:"session_id"`
}

// NewUserTurn builds a turn carrying text for the given session.
func NewUserTurn(sessionID, text string) UserTurn {
	return UserTurn{
		Type:      "user",
		Message:   UserMessage{Role: "user", Content: text},
		SessionID: sessionID,
	}
}

// PermissionRequest is the agent asking to run a tool.
type PermissionRequest struct {
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"toolUseId"`
}

// PermissionFunc decides whether a tool call may proceed. It may block until
// a human answers; ctx is cancelled when the agent withdraws the request or
// the stream ends.
type PermissionFunc func(ctx context.Context, req PermissionRequest) (Decision, error)

// Behavior is the outcome of a permission decision.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
)

// Decision answers a PermissionRequest.
type Decision struct {
	Behavior     Behavior        `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Allow approves a tool call, optionally replacing its input.
func Allow(updatedInput json.RawMessage) Decision {
	return Decision{Behavior: BehaviorAllow, UpdatedInput: updatedInput}
}

// Deny rejects a tool call with a reason the agent will see.
func Deny(message string) Decision {
	return Decision{Behavior: BehaviorDeny, Message: message}
}

// Allowed reports whether d approves the tool call.
func (d Decision) Allowed() bool {
	return d.Behavior == BehaviorAllow
}
