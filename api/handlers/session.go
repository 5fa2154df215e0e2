package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lagz0ne/claude-web/internal/model"
)

// SessionReader is the read side of the session engine.
type SessionReader interface {
	ListSessions(ctx context.Context) ([]model.SessionInfo, error)
	Messages(sessionID string) ([]json.RawMessage, error)
}

// SessionHandler serves session listings and transcripts.
type SessionHandler struct {
	sessions SessionReader
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionReader) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List handles GET /api/sessions - active and persisted sessions, newest first.
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.sessions.ListSessions(c.Request.Context())
	if err != nil {
		sendDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// Messages handles GET /api/sessions/:id/messages - the live transcript of
// an active session, or the persisted one otherwise.
func (h *SessionHandler) Messages(c *gin.Context) {
	sessionID := c.Param("id")

	messages, err := h.sessions.Messages(sessionID)
	if err != nil {
		sendDomainError(c, err)
		return
	}
	if messages == nil {
		messages = []json.RawMessage{}
	}
	c.JSON(http.StatusOK, messages)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/:id/messages", h.Messages)
	}
}
