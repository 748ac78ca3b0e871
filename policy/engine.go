// Package policy assesses the risk of a tool invocation. Tier thresholds are
// policy data, not code: they live in a rego document so the assessor stays
// auditable and testable independent of the tool adapters.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/secpilot/internal/domain"
)

// Input is the evaluation input for one tool invocation.
type Input struct {
	ToolName      string         `json:"tool_name"`
	Args          map[string]any `json:"args"`
	Target        string         `json:"target,omitempty"`
	TargetInScope bool           `json:"target_in_scope"`
}

// Decision is the assessed outcome for one tool invocation. The level is
// computed once at tool-run creation and never recomputed.
type Decision struct {
	Level           domain.RiskLevel
	RequireApproval bool
	Reason          string
}

// Engine evaluates the rego risk policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from the given rego policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.risk_policy.result"),
		rego.Module("risk_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate assesses one tool invocation. An out-of-scope target forces high
// risk in Go before the policy document is consulted, so a misconfigured
// policy cannot downgrade the one safety-critical escalation.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if input.Target != "" && !input.TargetInScope {
		return Decision{
			Level:           domain.RiskLevelHigh,
			RequireApproval: true,
			Reason:          "target outside allowed scope",
		}, nil
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate risk policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("risk policy produced no result for tool %s", input.ToolName)
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("risk policy returned unexpected type %T", results[0].Expressions[0].Value)
	}

	decision := Decision{Level: domain.RiskLevelLow}
	if level, ok := obj["level"].(string); ok {
		decision.Level = domain.RiskLevel(level)
	}
	if !domain.ValidRiskLevel(decision.Level) {
		return Decision{}, fmt.Errorf("risk policy returned unknown level %q", decision.Level)
	}
	if approve, ok := obj["require_approval"].(bool); ok {
		decision.RequireApproval = approve
	}
	if reason, ok := obj["reason"].(string); ok {
		decision.Reason = reason
	}
	return decision, nil
}

// DefaultPolicy is the built-in risk policy.
const DefaultPolicy = `
package risk_policy

default result = {"level": "low", "require_approval": false, "reason": "passive or read-only operation"}

# Version scans probe live services and are the most intrusive supported mode.
result = {"level": "high", "require_approval": true, "reason": "service version scan"} {
	input.tool_name == "scan"
	input.args.scan_type == "version"
}

# Connect scans open real TCP connections.
result = {"level": "medium", "require_approval": true, "reason": "tcp connect scan"} {
	input.tool_name == "scan"
	input.args.scan_type == "connect"
}
`
