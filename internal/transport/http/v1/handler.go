// Package v1 provides the HTTP handlers for the assistant API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/secpilot/internal/hub"
	"github.com/xiaot623/secpilot/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	hub     *hub.Hub
}

// NewHandler creates a new handler. The hub may be nil when the websocket
// endpoint is not wanted.
func NewHandler(svc *service.Service, eventHub *hub.Hub) *Handler {
	return &Handler{
		service: svc,
		hub:     eventHub,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Chat API
	e.POST("/v1/messages", h.ProcessMessage)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/v1/sessions/:session_id/plan", h.GetPlan)

	// Tool API
	e.POST("/v1/tools/:tool_name/execute", h.ExecuteTool)
	e.GET("/v1/tool_runs/:tool_run_id", h.GetToolRun)

	// Approval API
	e.GET("/v1/approvals", h.ListPendingApprovals)
	e.POST("/v1/tool_runs/:tool_run_id/approve", h.ApproveToolRun)
	e.POST("/v1/tool_runs/:tool_run_id/reject", h.RejectToolRun)

	// Operator event push
	e.GET("/v1/events/ws", h.Events)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorJSON maps service sentinels onto HTTP statuses.
func errorJSON(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, service.ErrUnsupportedTool), errors.Is(err, service.ErrOutOfScope):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
