package domain

import (
	"encoding/json"
	"time"
)

// ToolRun represents one attempted external-tool invocation and its lifecycle.
// Records are never deleted, only transitioned.
type ToolRun struct {
	ToolRunID        string          `json:"tool_run_id"`
	SessionID        string          `json:"session_id"`
	MessageID        string          `json:"message_id,omitempty"`
	UserID           string          `json:"user_id"`
	ToolName         string          `json:"tool_name"`
	Arguments        json.RawMessage `json:"arguments"`
	Status           ToolRunStatus   `json:"status"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	RiskReason       string          `json:"risk_reason,omitempty"`
	ApprovalRequired bool            `json:"approval_required"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	ExecutedAt       *time.Time      `json:"executed_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	AuditLog         []AuditEntry    `json:"audit_log"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AuditEntry is one append-only audit record on a tool run. Entries are never
// mutated after write and survive even if the result is later redacted.
type AuditEntry struct {
	Ts      time.Time `json:"ts"`
	Action  string    `json:"action"`
	Command string    `json:"command,omitempty"`
	Args    []string  `json:"args,omitempty"`
	Actor   string    `json:"actor,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Audit actions recorded on a tool run.
const (
	AuditActionCreated         = "created"
	AuditActionPolicyViolation = "policy_violation"
	AuditActionApproved        = "approved"
	AuditActionRejected        = "rejected"
	AuditActionExpired         = "approval_expired"
	AuditActionExecuted        = "executed"
	AuditActionCompleted       = "completed"
	AuditActionFailed          = "failed"
)
