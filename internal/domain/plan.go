package domain

import (
	"encoding/json"
	"time"
)

// AgentPlan is a session-scoped, ordered set of steps toward a stated goal.
// Plans live for the lifetime of a session and are reconstructible from the
// persisted message and tool-run history; they are not persisted themselves.
type AgentPlan struct {
	PlanID         string     `json:"plan_id"`
	SessionID      string     `json:"session_id"`
	Goal           string     `json:"goal"`
	Steps          []PlanStep `json:"steps"`
	CurrentStep    int        `json:"current_step"`
	Status         PlanStatus `json:"status"`
	RiskAssessment RiskLevel  `json:"risk_assessment"`
	CreatedAt      time.Time  `json:"created_at"`
}

// PlanStep is a single step in an agent plan, optionally bound to a tool call.
type PlanStep struct {
	StepID           string          `json:"step_id"`
	Description      string          `json:"description"`
	ToolName         string          `json:"tool_name,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	Status           StepStatus      `json:"status"`
	RequiresApproval bool            `json:"requires_approval"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
}
