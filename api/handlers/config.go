package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lagz0ne/claude-web/internal/config"
	"github.com/lagz0ne/claude-web/internal/workspace"
)

// ConfigStore is the live application config.
type ConfigStore interface {
	Current() config.AppConfig
	Update(cfg config.AppConfig) (config.AppConfig, error)
}

// ConfigHandler serves the config, workspace and command APIs.
type ConfigHandler struct {
	store ConfigStore
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(store ConfigStore) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Current())
}

// Update handles PUT /api/config.
func (h *ConfigHandler) Update(c *gin.Context) {
	var req config.AppConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON")
		return
	}

	updated, err := h.store.Update(req)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected config update")
		sendDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Workspaces handles GET /api/workspaces.
func (h *ConfigHandler) Workspaces(c *gin.Context) {
	cfg := h.store.Current()
	c.JSON(http.StatusOK, workspace.List(cfg.BaseDir, cfg.Presets))
}

// Commands handles GET /api/commands?cwd= - slash commands available in cwd.
func (h *ConfigHandler) Commands(c *gin.Context) {
	c.JSON(http.StatusOK, workspace.Commands(c.Query("cwd")))
}

// RegisterRoutes registers the config handler routes on a Gin router group.
func (h *ConfigHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/config", h.Get)
	rg.PUT("/config", h.Update)
	rg.GET("/workspaces", h.Workspaces)
	rg.GET("/commands", h.Commands)
}
