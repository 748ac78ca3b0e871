package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/xiaot623/secpilot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store *SQLiteStore) {
	t.Helper()
	session := &domain.Session{SessionID: "s1", UserID: "u1", CreatedAt: time.Now()}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
}

func seedToolRun(t *testing.T, store *SQLiteStore, id string, status domain.ToolRunStatus, approvalRequired bool) {
	t.Helper()
	run := &domain.ToolRun{
		ToolRunID:        id,
		SessionID:        "s1",
		UserID:           "u1",
		ToolName:         "scan",
		Arguments:        json.RawMessage(`{"target":"192.168.1.10","scan_type":"ping"}`),
		Status:           status,
		RiskLevel:        domain.RiskLevelLow,
		ApprovalRequired: approvalRequired,
		AuditLog:         []domain.AuditEntry{{Ts: time.Now(), Action: domain.AuditActionCreated}},
		CreatedAt:        time.Now(),
	}
	if err := store.CreateToolRun(context.Background(), run); err != nil {
		t.Fatalf("CreateToolRun failed: %v", err)
	}
}

func TestSessionAndMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSession(t, store)

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || got.UserID != "u1" {
		t.Fatalf("unexpected session: %+v", got)
	}

	missing, err := store.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing session, got (%+v, %v)", missing, err)
	}

	msg := &domain.Message{MessageID: "m1", SessionID: "s1", Role: "user", Content: "hello", CreatedAt: time.Now()}
	if err := store.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	messages, err := store.GetMessages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestGetMessagesWindowKeepsLatestTurns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSession(t, store)

	base := time.Now()
	for i := 0; i < 10; i++ {
		msg := &domain.Message{
			MessageID: fmt.Sprintf("m%d", i),
			SessionID: "s1",
			Role:      "user",
			Content:   fmt.Sprintf("turn %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := store.GetMessages(ctx, "s1", 6)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(messages))
	}
	// The window holds the newest turns in chronological order.
	for i, msg := range messages {
		want := fmt.Sprintf("turn %d", i+4)
		if msg.Content != want {
			t.Fatalf("message %d: got %q, want %q", i, msg.Content, want)
		}
	}
	if messages[len(messages)-1].Content != "turn 9" {
		t.Fatalf("latest turn missing from window: %+v", messages)
	}

	// No limit still returns the full history oldest-first.
	all, err := store.GetMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(all) != 10 || all[0].Content != "turn 0" {
		t.Fatalf("unexpected full history: %+v", all)
	}
}

func TestToolRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSession(t, store)
	seedToolRun(t, store, "tr_1", domain.ToolRunStatusPending, true)

	run, err := store.GetToolRun(ctx, "tr_1")
	if err != nil {
		t.Fatalf("GetToolRun failed: %v", err)
	}
	if run == nil {
		t.Fatal("expected tool run")
	}
	if run.Status != domain.ToolRunStatusPending || !run.ApprovalRequired {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(run.AuditLog) != 1 || run.AuditLog[0].Action != domain.AuditActionCreated {
		t.Fatalf("unexpected audit log: %+v", run.AuditLog)
	}

	missing, err := store.GetToolRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing run, got (%+v, %v)", missing, err)
	}
}

func TestToolRunLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSession(t, store)
	seedToolRun(t, store, "tr_1", domain.ToolRunStatusPending, true)

	updated, err := store.MarkApproved(ctx, "tr_1", "operator-7")
	if err != nil || !updated {
		t.Fatalf("MarkApproved = (%v, %v)", updated, err)
	}

	// Approving again must fail the CAS: the run is no longer pending.
	updated, err = store.MarkApproved(ctx, "tr_1", "operator-8")
	if err != nil {
		t.Fatalf("MarkApproved failed: %v", err)
	}
	if updated {
		t.Fatal("second approval unexpectedly succeeded")
	}

	updated, err = store.MarkRunning(ctx, "tr_1", domain.ToolRunStatusApproved)
	if err != nil || !updated {
		t.Fatalf("MarkRunning = (%v, %v)", updated, err)
	}

	updated, err = store.MarkCompleted(ctx, "tr_1", json.RawMessage(`{"status":"up","ports":[]}`))
	if err != nil || !updated {
		t.Fatalf("MarkCompleted = (%v, %v)", updated, err)
	}

	run, err := store.GetToolRun(ctx, "tr_1")
	if err != nil {
		t.Fatalf("GetToolRun failed: %v", err)
	}
	if run.Status != domain.ToolRunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.ApprovedBy != "operator-7" || run.ApprovedAt == nil {
		t.Fatalf("approval fields not recorded: %+v", run)
	}
	if run.ExecutedAt == nil || run.CompletedAt == nil {
		t.Fatal("execution window timestamps missing")
	}
	if run.Result == nil || run.ErrorMessage != "" {
		t.Fatalf("result and error must be mutually exclusive: %+v", run)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSession(t, store)
	seedToolRun(t, store, "tr_done", domain.ToolRunStatusCompleted, false)

	// completed → running is forbidden.
	updated, err := store.MarkRunning(ctx, "tr_done", domain.ToolRunStatusCompleted)
	if err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if updated {
		t.Fatal("completed run transitioned back to running")
	}

	// completed → failed is forbidden too.
	updated, err = store.MarkFailed(ctx, "tr_done", domain.ToolRunStatusCompleted, "nope")
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if updated {
		t.Fatal("completed run transitioned to failed")
	}

	// completing a run that is not running must fail the CAS.
	seedToolRun(t, store, "tr_pending", domain.ToolRunStatusPending, false)
	updated, err = store.MarkCompleted(ctx, "tr_pending", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if updated {
		t.Fatal("pending run jumped straight to completed")
	}
}

func TestAppendAuditGrowsLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSession(t, store)
	seedToolRun(t, store, "tr_1", domain.ToolRunStatusPending, false)

	entry := domain.AuditEntry{
		Ts:      time.Now(),
		Action:  domain.AuditActionExecuted,
		Command: "nmap",
		Args:    []string{"-T2", "-sn", "-oG", "-", "192.168.1.10"},
	}
	if err := store.AppendAudit(ctx, "tr_1", entry); err != nil {
		t.Fatalf("AppendAudit failed: %v", err)
	}

	run, err := store.GetToolRun(ctx, "tr_1")
	if err != nil {
		t.Fatalf("GetToolRun failed: %v", err)
	}
	if len(run.AuditLog) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(run.AuditLog))
	}
	if run.AuditLog[1].Command != "nmap" || len(run.AuditLog[1].Args) != 5 {
		t.Fatalf("audit entry lost detail: %+v", run.AuditLog[1])
	}

	if err := store.AppendAudit(ctx, "missing", entry); err == nil {
		t.Fatal("expected error appending to missing run")
	}
}

func TestListPendingAndExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSession(t, store)

	seedToolRun(t, store, "tr_a", domain.ToolRunStatusPending, true)
	seedToolRun(t, store, "tr_b", domain.ToolRunStatusPending, false)
	seedToolRun(t, store, "tr_c", domain.ToolRunStatusCompleted, true)

	pending, err := store.ListPendingToolRuns(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListPendingToolRuns failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ToolRunID != "tr_a" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	// Nothing is older than a cutoff in the past.
	expired, err := store.ListExpiredPending(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListExpiredPending failed: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("unexpected expired runs: %+v", expired)
	}

	// With a future cutoff, the approval-gated pending run is expired.
	expired, err = store.ListExpiredPending(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListExpiredPending failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ToolRunID != "tr_a" {
		t.Fatalf("unexpected expired runs: %+v", expired)
	}
}
