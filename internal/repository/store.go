// Package repository persists sessions, messages and the tool-run ledger.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xiaot623/secpilot/internal/domain"
)

// Store is the persistence interface consumed by the service layer. Getters
// return (nil, nil) when the record does not exist. All status transition
// methods are compare-and-set: they report false when the record was not in
// the expected pre-state, which callers surface as a conflict.
type Store interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	CreateToolRun(ctx context.Context, run *domain.ToolRun) error
	GetToolRun(ctx context.Context, toolRunID string) (*domain.ToolRun, error)
	MarkApproved(ctx context.Context, toolRunID, approver string) (bool, error)
	MarkRunning(ctx context.Context, toolRunID string, from domain.ToolRunStatus) (bool, error)
	MarkCompleted(ctx context.Context, toolRunID string, result json.RawMessage) (bool, error)
	MarkFailed(ctx context.Context, toolRunID string, from domain.ToolRunStatus, errorMessage string) (bool, error)
	AppendAudit(ctx context.Context, toolRunID string, entry domain.AuditEntry) error
	ListPendingToolRuns(ctx context.Context, userID string, limit int) ([]domain.ToolRun, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.ToolRun, error)

	Close() error
}
