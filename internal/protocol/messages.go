// Package protocol defines the WebSocket wire schema and routes client
// commands to the session engine.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/lagz0ne/claude-web/internal/model"
)

// Client command types.
const (
	TypeCreateSession      = "create_session"
	TypeResumeSession      = "resume_session"
	TypeSendMessage        = "send_message"
	TypePermissionResponse = "permission_response"
	TypeAskUserResponse    = "ask_user_response"
	TypeListSessions       = "list_sessions"
	TypeKillSession        = "kill_session"
)

// Server event types.
const (
	TypeSDKMessage        = "sdk_message"
	TypePermissionRequest = "permission_request"
	TypeAskUserQuestion   = "ask_user_question"
	TypeSessionList       = "session_list"
	TypeSessionCreated    = "session_created"
	TypeSessionEnded      = "session_ended"
	TypeError             = "error"
)

// AskUserQuestionTool is the tool whose permission prompt is presented as a
// question form instead of an approve/deny dialog.
const AskUserQuestionTool = "AskUserQuestion"

// ClientMessage is an inbound command. Fields beyond Type are populated
// according to Type.
type ClientMessage struct {
	Type         string          `json:"type"`
	Cwd          string          `json:"cwd,omitempty"`
	Prompt       string          `json:"prompt,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
	Text         string          `json:"text,omitempty"`
	ToolUseID    string          `json:"toolUseId,omitempty"`
	Allow        *bool           `json:"allow,omitempty"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Answers      json.RawMessage `json:"answers,omitempty"`
	Questions    json.RawMessage `json:"questions,omitempty"`
}

// Validate checks that the fields required by the command type are present.
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case TypeCreateSession:
		if m.Cwd == "" {
			return model.ErrCwdRequired
		}
	case TypeResumeSession, TypeKillSession:
		return m.requireSession()
	case TypeSendMessage:
		if err := m.requireSession(); err != nil {
			return err
		}
		if m.Text == "" {
			return malformed("%s: text is required", m.Type)
		}
	case TypePermissionResponse:
		if err := m.requireToolUse(); err != nil {
			return err
		}
		if m.Allow == nil {
			return malformed("%s: allow is required", m.Type)
		}
	case TypeAskUserResponse:
		if err := m.requireToolUse(); err != nil {
			return err
		}
		if isAbsent(m.Answers) || isAbsent(m.Questions) {
			return malformed("%s: answers and questions are required", m.Type)
		}
	case TypeListSessions:
	case "":
		return malformed("message type is required")
	default:
		return malformed("unknown message type %q", m.Type)
	}
	return nil
}

func (m *ClientMessage) requireSession() error {
	if m.SessionID == "" {
		return malformed("%s: sessionId is required", m.Type)
	}
	return nil
}

func (m *ClientMessage) requireToolUse() error {
	if err := m.requireSession(); err != nil {
		return err
	}
	if m.ToolUseID == "" {
		return malformed("%s: toolUseId is required", m.Type)
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrMalformedRequest}, args...)...)
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// SDKMessageEvent relays one agent event.
type SDKMessageEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Message   json.RawMessage `json:"message"`
}

// PermissionRequestEvent asks the user to approve a tool call.
type PermissionRequestEvent struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	ToolName    string          `json:"toolName"`
	Input       json.RawMessage `json:"input"`
	ToolUseID   string          `json:"toolUseId"`
	Description string          `json:"description,omitempty"`
}

// AskUserQuestionEvent asks the user to answer the agent's questions.
type AskUserQuestionEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Questions json.RawMessage `json:"questions"`
	ToolUseID string          `json:"toolUseId"`
}

// SessionListEvent carries the merged session listing.
type SessionListEvent struct {
	Type     string              `json:"type"`
	Sessions []model.SessionInfo `json:"sessions"`
}

// SessionCreatedEvent announces a new or resumed session.
type SessionCreatedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

// SessionEndedEvent announces a finalized session.
type SessionEndedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ErrorEvent reports a failed command or agent stream.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
