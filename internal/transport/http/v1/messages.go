package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/secpilot/internal/domain"
)

// ProcessMessage handles one conversational turn.
// POST /v1/messages
func (h *Handler) ProcessMessage(c echo.Context) error {
	var req domain.ProcessMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}

	ctx := c.Request().Context()

	resp, err := h.service.ProcessMessage(ctx, req)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// GetSessionMessages retrieves messages for a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	ctx := c.Request().Context()

	messages, err := h.service.GetSessionMessages(ctx, sessionID, limit)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// GetPlan retrieves the current plan for a session.
// GET /v1/sessions/:session_id/plan
func (h *Handler) GetPlan(c echo.Context) error {
	sessionID := c.Param("session_id")

	plan := h.service.GetPlan(sessionID)
	if plan == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no plan for session"})
	}

	return c.JSON(http.StatusOK, plan)
}
