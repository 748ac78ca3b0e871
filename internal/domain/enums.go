// Package domain defines the core domain models for the assistant.
package domain

// ToolRunStatus represents the lifecycle status of a tool run.
type ToolRunStatus string

const (
	ToolRunStatusPending   ToolRunStatus = "pending"
	ToolRunStatusApproved  ToolRunStatus = "approved"
	ToolRunStatusRunning   ToolRunStatus = "running"
	ToolRunStatusCompleted ToolRunStatus = "completed"
	ToolRunStatusFailed    ToolRunStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s ToolRunStatus) IsTerminal() bool {
	return s == ToolRunStatusCompleted || s == ToolRunStatusFailed
}

// validTransitions enumerates every legal status transition. An auto-approved
// run may go straight from pending to running; everything else must pass
// through the intermediate states so in-flight work stays observable.
var validTransitions = map[ToolRunStatus][]ToolRunStatus{
	ToolRunStatusPending:  {ToolRunStatusApproved, ToolRunStatusRunning, ToolRunStatusFailed},
	ToolRunStatusApproved: {ToolRunStatusRunning, ToolRunStatusFailed},
	ToolRunStatusRunning:  {ToolRunStatusCompleted, ToolRunStatusFailed},
}

// CanTransition reports whether a tool run may move from one status to another.
func CanTransition(from, to ToolRunStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RiskLevel represents the assessed risk tier of a tool invocation.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// riskRank orders risk levels for aggregation.
var riskRank = map[RiskLevel]int{
	RiskLevelLow:    0,
	RiskLevelMedium: 1,
	RiskLevelHigh:   2,
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// ValidRiskLevel reports whether the value is a known risk level.
func ValidRiskLevel(r RiskLevel) bool {
	_, ok := riskRank[r]
	return ok
}

// IntentType represents the classified purpose of a user message.
type IntentType string

const (
	IntentRAGQuery      IntentType = "rag_query"
	IntentToolExecution IntentType = "tool_execution"
	IntentPlanning      IntentType = "planning"
	IntentCasualChat    IntentType = "casual_chat"
)

// ValidIntentType reports whether the value is a known intent type.
func ValidIntentType(t IntentType) bool {
	switch t {
	case IntentRAGQuery, IntentToolExecution, IntentPlanning, IntentCasualChat:
		return true
	}
	return false
}

// PlanStatus represents the overall status of an agent plan.
type PlanStatus string

const (
	PlanStatusPlanning  PlanStatus = "planning"
	PlanStatusExecuting PlanStatus = "executing"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// StepStatus represents the status of a single plan step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusExecuting StepStatus = "executing"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)
