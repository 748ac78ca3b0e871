package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/scope"
	"github.com/xiaot623/secpilot/internal/tools"
	"github.com/xiaot623/secpilot/policy"
)

// ExecuteOptions carries the context of a tool execution request.
type ExecuteOptions struct {
	SessionID string
	UserID    string
	MessageID string
	// RequireApproval forces the approval gate regardless of the assessed
	// risk tier.
	RequireApproval bool
}

// ExecuteTool assesses, records and (when allowed) executes one tool
// invocation. Out-of-scope targets and unknown tool names are rejected as
// hard, non-retryable policy violations before any process is spawned.
func (s *Service) ExecuteTool(ctx context.Context, toolName string, args json.RawMessage, opts ExecuteOptions) (*domain.ExecuteToolResponse, error) {
	adapter, ok := s.registry.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTool, toolName)
	}

	sessionID, err := s.ensureSession(ctx, opts.SessionID, opts.UserID)
	if err != nil {
		return nil, err
	}
	opts.SessionID = sessionID

	target := tools.TargetOf(toolName, args)
	inScope := target == "" || scope.IsAllowed(target)

	// Risk is computed exactly once, here; it is immutable afterwards.
	decision, err := s.policy.Evaluate(ctx, policy.Input{
		ToolName:      toolName,
		Args:          tools.ArgsMap(args),
		Target:        target,
		TargetInScope: inScope,
	})
	if err != nil {
		return nil, fmt.Errorf("risk assessment failed: %w", err)
	}

	now := time.Now()
	run := &domain.ToolRun{
		ToolRunID:        "tr_" + uuid.New().String(),
		SessionID:        opts.SessionID,
		MessageID:        opts.MessageID,
		UserID:           opts.UserID,
		ToolName:         toolName,
		Arguments:        args,
		Status:           domain.ToolRunStatusPending,
		RiskLevel:        decision.Level,
		RiskReason:       decision.Reason,
		ApprovalRequired: opts.RequireApproval || decision.RequireApproval,
		AuditLog: []domain.AuditEntry{{
			Ts:     now,
			Action: domain.AuditActionCreated,
			Detail: fmt.Sprintf("tool=%s risk=%s reason=%s", toolName, decision.Level, decision.Reason),
		}},
		CreatedAt: now,
	}

	if !inScope {
		// Policy violation: the run is recorded for the audit trail but
		// fails immediately and never reaches running.
		run.ApprovalRequired = false
		if err := s.store.CreateToolRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to create tool run: %w", err)
		}
		if auditErr := s.audit(ctx, run.ToolRunID, domain.AuditEntry{
			Action: domain.AuditActionPolicyViolation,
			Detail: fmt.Sprintf("target %s outside allowed scope", target),
		}); auditErr != nil {
			log.Printf("WARN: failed to audit policy violation for %s: %v", run.ToolRunID, auditErr)
		}
		msg := fmt.Sprintf("target %s is outside the allowed scope", target)
		if _, err := s.store.MarkFailed(ctx, run.ToolRunID, domain.ToolRunStatusPending, msg); err != nil {
			log.Printf("WARN: failed to fail out-of-scope run %s: %v", run.ToolRunID, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrOutOfScope, target)
	}

	if err := s.store.CreateToolRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create tool run: %w", err)
	}

	if run.ApprovalRequired {
		s.publish(opts.SessionID, domain.EventTypeApprovalRequired, summarize(run))
		stored, err := s.store.GetToolRun(ctx, run.ToolRunID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload tool run: %w", err)
		}
		return &domain.ExecuteToolResponse{ToolRun: stored, RequiresApproval: true}, nil
	}

	// Auto-approved: pending → running directly, then execute.
	updated, err := s.store.MarkRunning(ctx, run.ToolRunID, domain.ToolRunStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to start tool run: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: tool run %s is not pending", ErrConflict, run.ToolRunID)
	}

	final, err := s.executeToolRun(ctx, run.ToolRunID, adapter, args)
	if err != nil {
		return nil, err
	}
	return &domain.ExecuteToolResponse{ToolRun: final, Result: final.Result, RequiresApproval: false}, nil
}

// executeToolRun drives one already-running tool run through its adapter and
// finalizes the ledger record. The adapter boundary never raises, so every
// exit path lands the run in a terminal state.
func (s *Service) executeToolRun(ctx context.Context, toolRunID string, adapter tools.Adapter, args json.RawMessage) (*domain.ToolRun, error) {
	outcome := adapter.Execute(ctx, args)

	auditEntry := domain.AuditEntry{
		Action:  domain.AuditActionExecuted,
		Command: outcome.Command,
		Args:    outcome.Args,
	}
	if err := s.audit(ctx, toolRunID, auditEntry); err != nil {
		log.Printf("WARN: failed to audit execution for %s: %v", toolRunID, err)
	}

	if outcome.Success {
		if _, err := s.store.MarkCompleted(ctx, toolRunID, outcome.Data); err != nil {
			return nil, fmt.Errorf("failed to complete tool run: %w", err)
		}
		if err := s.audit(ctx, toolRunID, domain.AuditEntry{Action: domain.AuditActionCompleted}); err != nil {
			log.Printf("WARN: failed to audit completion for %s: %v", toolRunID, err)
		}
	} else {
		if _, err := s.store.MarkFailed(ctx, toolRunID, domain.ToolRunStatusRunning, outcome.Error); err != nil {
			return nil, fmt.Errorf("failed to fail tool run: %w", err)
		}
		if err := s.audit(ctx, toolRunID, domain.AuditEntry{Action: domain.AuditActionFailed, Detail: outcome.Error}); err != nil {
			log.Printf("WARN: failed to audit failure for %s: %v", toolRunID, err)
		}
	}

	run, err := s.store.GetToolRun(ctx, toolRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload tool run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: tool run %s", ErrNotFound, toolRunID)
	}

	s.publish(run.SessionID, domain.EventTypeToolResult, summarize(run))
	return run, nil
}

// GetToolRun retrieves one tool run.
func (s *Service) GetToolRun(ctx context.Context, toolRunID string) (*domain.ToolRun, error) {
	run, err := s.store.GetToolRun(ctx, toolRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: tool run %s", ErrNotFound, toolRunID)
	}
	return run, nil
}

// ListPendingApprovals lists a user's tool runs awaiting approval.
func (s *Service) ListPendingApprovals(ctx context.Context, userID string, limit int) ([]domain.ToolCallSummary, error) {
	runs, err := s.store.ListPendingToolRuns(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tool runs: %w", err)
	}
	summaries := make([]domain.ToolCallSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, summarize(&runs[i]))
	}
	return summaries, nil
}

func summarize(run *domain.ToolRun) domain.ToolCallSummary {
	return domain.ToolCallSummary{
		ToolRunID:        run.ToolRunID,
		ToolName:         run.ToolName,
		Arguments:        run.Arguments,
		Status:           run.Status,
		RiskLevel:        run.RiskLevel,
		ApprovalRequired: run.ApprovalRequired,
		Result:           run.Result,
		Error:            run.ErrorMessage,
	}
}
