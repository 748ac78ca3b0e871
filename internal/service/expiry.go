package service

import (
	"context"
	"log"
	"time"

	"github.com/xiaot623/secpilot/internal/domain"
)

const (
	expirySweepInterval = 30 * time.Second
	expirySweepBatch    = 100
)

// RunApprovalExpiryMonitor periodically fails pending tool runs whose
// approval window has lapsed. Blocks until ctx is cancelled. A zero
// approval timeout disables the monitor entirely.
func (s *Service) RunApprovalExpiryMonitor(ctx context.Context) {
	if s.config.ApprovalTimeout <= 0 {
		log.Println("Approval expiry monitor disabled (APPROVAL_TIMEOUT_MS=0)")
		return
	}

	log.Printf("Approval expiry monitor started (timeout=%s, sweep=%s)", s.config.ApprovalTimeout, expirySweepInterval)
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Approval expiry monitor stopped")
			return
		case <-ticker.C:
			s.sweepExpiredApprovals(ctx)
		}
	}
}

func (s *Service) sweepExpiredApprovals(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.ApprovalTimeout)
	runs, err := s.store.ListExpiredPending(ctx, cutoff, expirySweepBatch)
	if err != nil {
		log.Printf("WARN: approval expiry sweep failed: %v", err)
		return
	}

	for i := range runs {
		run := &runs[i]
		updated, err := s.store.MarkFailed(ctx, run.ToolRunID, domain.ToolRunStatusPending, "approval window expired")
		if err != nil {
			log.Printf("WARN: failed to expire tool run %s: %v", run.ToolRunID, err)
			continue
		}
		if !updated {
			// Decided between listing and sweep. Leave it alone.
			continue
		}
		if err := s.audit(ctx, run.ToolRunID, domain.AuditEntry{
			Action: domain.AuditActionExpired,
			Detail: "no approval decision within " + s.config.ApprovalTimeout.String(),
		}); err != nil {
			log.Printf("WARN: failed to audit expiry for %s: %v", run.ToolRunID, err)
		}
		s.publish(run.SessionID, domain.EventTypeApprovalDecision, map[string]string{
			"tool_run_id": run.ToolRunID,
			"decision":    "expired",
		})
		log.Printf("Expired pending tool run %s (tool=%s, created=%s)", run.ToolRunID, run.ToolName, run.CreatedAt.Format(time.RFC3339))
	}
}
