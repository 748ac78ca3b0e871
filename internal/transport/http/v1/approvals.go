package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/secpilot/internal/domain"
)

// ListPendingApprovals lists tool runs awaiting an operator decision.
// GET /v1/approvals?user_id=...
func (h *Handler) ListPendingApprovals(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	ctx := c.Request().Context()

	pending, err := h.service.ListPendingApprovals(ctx, userID, limit)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"approvals": pending,
	})
}

// ApproveToolRun approves a pending tool run and executes it.
// POST /v1/tool_runs/:tool_run_id/approve
func (h *Handler) ApproveToolRun(c echo.Context) error {
	toolRunID := c.Param("tool_run_id")
	var req domain.ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ApproverID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "approver_id is required"})
	}

	ctx := c.Request().Context()

	resp, err := h.service.ApproveToolRun(ctx, toolRunID, req.ApproverID)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// RejectToolRun rejects a pending tool run.
// POST /v1/tool_runs/:tool_run_id/reject
func (h *Handler) RejectToolRun(c echo.Context) error {
	toolRunID := c.Param("tool_run_id")
	var req domain.ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ApproverID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "approver_id is required"})
	}

	ctx := c.Request().Context()

	resp, err := h.service.RejectToolRun(ctx, toolRunID, req.ApproverID, req.Reason)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}
