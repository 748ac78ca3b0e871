package service

import (
	"context"
	"fmt"
	"log"

	"github.com/xiaot623/secpilot/internal/domain"
)

// ApproveToolRun records an operator's approval of a pending tool run and
// executes it. Concurrent decisions on the same run are resolved by the
// ledger: exactly one wins, the rest get ErrConflict.
func (s *Service) ApproveToolRun(ctx context.Context, toolRunID, approverID string) (*domain.ApprovalResponse, error) {
	run, err := s.store.GetToolRun(ctx, toolRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: tool run %s", ErrNotFound, toolRunID)
	}
	if run.Status != domain.ToolRunStatusPending {
		return nil, fmt.Errorf("%w: tool run %s is %s, not pending", ErrConflict, toolRunID, run.Status)
	}

	updated, err := s.store.MarkApproved(ctx, toolRunID, approverID)
	if err != nil {
		return nil, fmt.Errorf("failed to approve tool run: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: tool run %s was decided concurrently", ErrConflict, toolRunID)
	}

	if err := s.audit(ctx, toolRunID, domain.AuditEntry{
		Action: domain.AuditActionApproved,
		Actor:  approverID,
	}); err != nil {
		log.Printf("WARN: failed to audit approval for %s: %v", toolRunID, err)
	}
	s.publish(run.SessionID, domain.EventTypeApprovalDecision, map[string]string{
		"tool_run_id": toolRunID,
		"decision":    "approved",
		"approver_id": approverID,
	})

	adapter, ok := s.registry.Get(run.ToolName)
	if !ok {
		// Registry changed between creation and approval.
		if _, ferr := s.store.MarkFailed(ctx, toolRunID, domain.ToolRunStatusApproved, "tool no longer available"); ferr != nil {
			log.Printf("WARN: failed to fail orphaned run %s: %v", toolRunID, ferr)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTool, run.ToolName)
	}

	updated, err = s.store.MarkRunning(ctx, toolRunID, domain.ToolRunStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to start tool run: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: tool run %s is not approved", ErrConflict, toolRunID)
	}

	final, err := s.executeToolRun(ctx, toolRunID, adapter, run.Arguments)
	if err != nil {
		return nil, err
	}
	return &domain.ApprovalResponse{ToolRun: final, Result: final.Result}, nil
}

// RejectToolRun records an operator's rejection of a pending tool run. The
// run moves to failed without ever executing.
func (s *Service) RejectToolRun(ctx context.Context, toolRunID, approverID, reason string) (*domain.ApprovalResponse, error) {
	run, err := s.store.GetToolRun(ctx, toolRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: tool run %s", ErrNotFound, toolRunID)
	}
	if run.Status != domain.ToolRunStatusPending {
		return nil, fmt.Errorf("%w: tool run %s is %s, not pending", ErrConflict, toolRunID, run.Status)
	}

	msg := "rejected by operator"
	if reason != "" {
		msg = "rejected: " + reason
	}
	updated, err := s.store.MarkFailed(ctx, toolRunID, domain.ToolRunStatusPending, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to reject tool run: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: tool run %s was decided concurrently", ErrConflict, toolRunID)
	}

	if err := s.audit(ctx, toolRunID, domain.AuditEntry{
		Action: domain.AuditActionRejected,
		Actor:  approverID,
		Detail: reason,
	}); err != nil {
		log.Printf("WARN: failed to audit rejection for %s: %v", toolRunID, err)
	}
	s.publish(run.SessionID, domain.EventTypeApprovalDecision, map[string]string{
		"tool_run_id": toolRunID,
		"decision":    "rejected",
		"approver_id": approverID,
	})

	final, err := s.store.GetToolRun(ctx, toolRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload tool run: %w", err)
	}
	return &domain.ApprovalResponse{ToolRun: final}, nil
}
