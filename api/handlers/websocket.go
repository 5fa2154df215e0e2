package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebSocketHandler attaches browsers to the broadcast channel.
type WebSocketHandler struct {
	ws http.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler around the upgrade handler.
func NewWebSocketHandler(ws http.Handler) *WebSocketHandler {
	return &WebSocketHandler{ws: ws}
}

// Connect handles GET /ws. The connection observes every session.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	h.ws.ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket route.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Connect)
}
