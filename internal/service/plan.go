package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/secpilot/internal/adapter/llm"
	"github.com/xiaot623/secpilot/internal/domain"
)

const planSystemPrompt = `You are the plan builder for a security-operations assistant.
Produce a multi-step assessment plan for the user's goal.
Available tools: scan, dns-lookup, whois, domain-intel. Only use targets the user named.
Respond with a single JSON object:
{"goal": "...", "steps": [{"id": "step-1", "description": "...", "tool_name": "", "arguments": {}, "risk_level": "low|medium|high", "requires_approval": false}]}`

// planStore holds session-scoped plans in memory. Plans are views over the
// persisted history and do not survive a restart.
type planStore struct {
	mu    sync.RWMutex
	plans map[string]*domain.AgentPlan
}

func newPlanStore() *planStore {
	return &planStore{plans: make(map[string]*domain.AgentPlan)}
}

// get returns a snapshot copy; the stored plan is never handed out, so
// readers cannot race a concurrent step update.
func (p *planStore) get(sessionID string) *domain.AgentPlan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return clonePlan(p.plans[sessionID])
}

func (p *planStore) put(sessionID string, plan *domain.AgentPlan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plans[sessionID] = plan
}

// applyStep mutates a step under the lock and returns a snapshot of the
// resulting plan, or nil when the session has no plan.
func (p *planStore) applyStep(sessionID, stepID string, status domain.StepStatus, result json.RawMessage, stepErr string) *domain.AgentPlan {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan := p.plans[sessionID]
	if plan == nil {
		return nil
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.StepID == stepID {
			step.Status = status
			step.Result = result
			step.Error = stepErr
		}
	}

	allDone := true
	anyFailed := false
	cursor := len(plan.Steps) - 1
	for i := range plan.Steps {
		switch plan.Steps[i].Status {
		case domain.StepStatusCompleted, domain.StepStatusSkipped:
		case domain.StepStatusFailed:
			anyFailed = true
		default:
			if allDone {
				cursor = i
			}
			allDone = false
		}
	}
	plan.CurrentStep = cursor
	if allDone {
		if anyFailed {
			plan.Status = domain.PlanStatusFailed
		} else {
			plan.Status = domain.PlanStatusCompleted
		}
	}

	return clonePlan(plan)
}

func clonePlan(plan *domain.AgentPlan) *domain.AgentPlan {
	if plan == nil {
		return nil
	}
	cp := *plan
	cp.Steps = append([]domain.PlanStep(nil), plan.Steps...)
	return &cp
}

// GetPlan returns a snapshot of the current plan for a session, or nil.
func (s *Service) GetPlan(sessionID string) *domain.AgentPlan {
	return s.plans.get(sessionID)
}

// UpdatePlanStep marks a step's progress and advances the plan cursor. When
// every step is terminal the plan itself completes.
func (s *Service) UpdatePlanStep(sessionID, stepID string, status domain.StepStatus, result json.RawMessage, stepErr string) {
	snapshot := s.plans.applyStep(sessionID, stepID, status, result, stepErr)
	if snapshot == nil {
		return
	}
	s.publish(sessionID, domain.EventTypePlanUpdated, snapshot)
}

// buildPlan requests a structured plan from the completion capability. On
// any failure it returns a renderable zero-step failed plan instead of an
// error.
func (s *Service) buildPlan(ctx context.Context, sessionID, message string, entities Entities) *domain.AgentPlan {
	failed := &domain.AgentPlan{
		PlanID:         "pl_" + uuid.New().String()[:8],
		SessionID:      sessionID,
		Status:         domain.PlanStatusFailed,
		Steps:          []domain.PlanStep{},
		RiskAssessment: domain.RiskLevelLow,
		CreatedAt:      time.Now(),
	}

	prompt := message
	if len(entities.Targets) > 0 {
		prompt += "\nNamed targets: " + strings.Join(entities.Targets, ", ")
	}
	if len(entities.Domains) > 0 {
		prompt += "\nNamed domains: " + strings.Join(entities.Domains, ", ")
	}

	temperature := 0.0
	resp, err := s.llm.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: s.config.LLMModel,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    &temperature,
		ResponseFormat: llm.JSONMode(),
	})
	if err != nil {
		log.Printf("WARN: plan completion failed: %v", err)
		return failed
	}

	plan, err := parsePlan(resp.FirstContent())
	if err != nil {
		log.Printf("WARN: plan response rejected: %v", err)
		return failed
	}

	plan.PlanID = failed.PlanID
	plan.SessionID = sessionID
	plan.CreatedAt = failed.CreatedAt
	return plan
}

type rawPlanStep struct {
	ID               string          `json:"id"`
	Description      string          `json:"description"`
	ToolName         string          `json:"tool_name,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	RiskLevel        string          `json:"risk_level,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

type rawPlan struct {
	Goal  string        `json:"goal"`
	Steps []rawPlanStep `json:"steps"`
}

// parsePlan validates the completion output: a plan needs a goal and at
// least one step, and every step needs an id and a description. Step risk
// levels outside the known tiers degrade to low.
func parsePlan(content string) (*domain.AgentPlan, error) {
	var raw rawPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return nil, err
	}
	if raw.Goal == "" {
		return nil, &schemaError{field: "goal", value: "(empty)"}
	}
	if len(raw.Steps) == 0 {
		return nil, &schemaError{field: "steps", value: "(empty)"}
	}

	plan := &domain.AgentPlan{
		Goal:           raw.Goal,
		Status:         domain.PlanStatusExecuting,
		RiskAssessment: domain.RiskLevelLow,
	}
	for _, rs := range raw.Steps {
		if rs.ID == "" || rs.Description == "" {
			return nil, &schemaError{field: "steps", value: "step missing id or description"}
		}
		risk := domain.RiskLevel(rs.RiskLevel)
		if !domain.ValidRiskLevel(risk) {
			risk = domain.RiskLevelLow
		}
		plan.RiskAssessment = domain.MaxRisk(plan.RiskAssessment, risk)
		plan.Steps = append(plan.Steps, domain.PlanStep{
			StepID:           rs.ID,
			Description:      rs.Description,
			ToolName:         rs.ToolName,
			Arguments:        rs.Arguments,
			Status:           domain.StepStatusPending,
			RequiresApproval: rs.RequiresApproval,
			RiskLevel:        risk,
		})
	}
	return plan, nil
}
