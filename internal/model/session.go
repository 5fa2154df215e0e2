package model

import (
	"time"
)

// SessionStatus represents the durable status of an agent session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// SessionMeta is the projection of a session that outlives the process.
type SessionMeta struct {
	ID            string        `json:"id"`
	Cwd           string        `json:"cwd"`
	Status        SessionStatus `json:"status"`
	MessageCount  int           `json:"messageCount"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastMessageAt time.Time     `json:"lastMessageAt"`
}

// SessionInfo is the list entry sent to clients.
// Timestamps are unix milliseconds.
type SessionInfo struct {
	ID           string        `json:"id"`
	Cwd          string        `json:"cwd"`
	CreatedAt    int64         `json:"createdAt"`
	MessageCount int           `json:"messageCount"`
	Status       SessionStatus `json:"status"`
}

// Info converts persisted metadata to a SessionInfo.
func (m *SessionMeta) Info() SessionInfo {
	return SessionInfo{
		ID:           m.ID,
		Cwd:          m.Cwd,
		CreatedAt:    m.CreatedAt.UnixMilli(),
		MessageCount: m.MessageCount,
		Status:       m.Status,
	}
}

// CreateSessionRequest represents a request to create a new session.
type CreateSessionRequest struct {
	Cwd    string `json:"cwd"`
	Prompt string `json:"prompt,omitempty"`
}

// Validate validates the create session request.
func (r *CreateSessionRequest) Validate() error {
	if r.Cwd == "" {
		return ErrCwdRequired
	}
	return nil
}
