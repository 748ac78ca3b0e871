package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/service"
)

// ExecuteTool handles a direct tool execution request.
// POST /v1/tools/:tool_name/execute
func (h *Handler) ExecuteTool(c echo.Context) error {
	toolName := c.Param("tool_name")
	var req domain.ExecuteToolRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}

	ctx := c.Request().Context()

	resp, err := h.service.ExecuteTool(ctx, toolName, req.Arguments, service.ExecuteOptions{
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		MessageID:       req.MessageID,
		RequireApproval: req.RequiresApproval,
	})
	if err != nil {
		return errorJSON(c, err)
	}

	status := http.StatusOK
	if resp.RequiresApproval {
		status = http.StatusAccepted
	}
	return c.JSON(status, resp)
}

// GetToolRun retrieves one tool run, audit log included.
// GET /v1/tool_runs/:tool_run_id
func (h *Handler) GetToolRun(c echo.Context) error {
	toolRunID := c.Param("tool_run_id")

	ctx := c.Request().Context()

	run, err := h.service.GetToolRun(ctx, toolRunID)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, run)
}
