// Package handlers provides the HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lagz0ne/claude-web/internal/config"
	"github.com/lagz0ne/claude-web/internal/model"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendDomainError maps a domain error to its status code.
func sendDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrInvalidIdentifier):
		sendError(c, http.StatusBadRequest, "INVALID_ID", err.Error())
	case errors.Is(err, model.ErrMalformedRequest), errors.Is(err, config.ErrInvalidConfig):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
