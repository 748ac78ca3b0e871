package domain

import "encoding/json"

// ProcessMessageRequest is the inbound chat request from the presentation layer.
type ProcessMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	// VoiceInput marks messages transcribed from audio. The core treats them
	// identically; the flag is echoed into message metadata.
	VoiceInput bool `json:"voice_input,omitempty"`
}

// ProcessMessageResponse is the chat response returned to the caller.
type ProcessMessageResponse struct {
	Content   string            `json:"content"`
	Intent    IntentType        `json:"intent"`
	ToolCalls []ToolCallSummary `json:"tool_calls,omitempty"`
	Plan      *AgentPlan        `json:"plan,omitempty"`
	RAGUsed   bool              `json:"rag_used"`
	Sources   []string          `json:"sources,omitempty"`
}

// ToolCallSummary is the per-tool-call payload rendered in chat responses and
// in the pending-approvals listing.
type ToolCallSummary struct {
	ToolRunID        string          `json:"tool_run_id"`
	ToolName         string          `json:"tool_name"`
	Arguments        json.RawMessage `json:"arguments"`
	Status           ToolRunStatus   `json:"status"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	ApprovalRequired bool            `json:"approval_required"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ExecuteToolRequest is the request to execute a tool directly.
type ExecuteToolRequest struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	MessageID string          `json:"message_id,omitempty"`
	Arguments json.RawMessage `json:"arguments"`
	// RequiresApproval lets the caller force the approval gate even when the
	// risk policy would not.
	RequiresApproval bool `json:"requires_approval,omitempty"`
}

// ExecuteToolResponse is the response after requesting a tool execution.
type ExecuteToolResponse struct {
	ToolRun          *ToolRun        `json:"tool_run"`
	Result           json.RawMessage `json:"result,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
}

// ApprovalRequest is the request to approve or reject a pending tool run.
type ApprovalRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason,omitempty"`
}

// ApprovalResponse is the response after deciding on a pending tool run.
type ApprovalResponse struct {
	ToolRun *ToolRun        `json:"tool_run"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Event is a notification pushed to connected operator clients.
type Event struct {
	Type      string          `json:"type"`
	Ts        int64           `json:"ts"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Event types pushed over the operator hub.
const (
	EventTypeApprovalRequired = "approval_required"
	EventTypeApprovalDecision = "approval_decision"
	EventTypeToolResult       = "tool_result"
	EventTypePlanUpdated      = "plan_updated"
)
