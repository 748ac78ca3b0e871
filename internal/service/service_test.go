package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/secpilot/internal/adapter/llm"
	"github.com/xiaot623/secpilot/internal/adapter/rag"
	"github.com/xiaot623/secpilot/internal/config"
	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/tools"
	"github.com/xiaot623/secpilot/policy"
	"github.com/xiaot623/secpilot/tests/helpers"
)

// stubAdapter is a canned tool adapter for pipeline tests.
type stubAdapter struct {
	name    string
	outcome tools.Outcome
	calls   int
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Execute(ctx context.Context, args json.RawMessage) tools.Outcome {
	a.calls++
	return a.outcome
}

// flakyLLM fails every completion call.
type flakyLLM struct{}

func (f *flakyLLM) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	return nil, errors.New("backend unavailable")
}

func newTestService(t *testing.T) (*Service, *stubAdapter) {
	t.Helper()

	store := helpers.NewTestSQLiteStore(t)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	adapter := &stubAdapter{
		name:    tools.ToolScan,
		outcome: tools.Outcome{Success: true, Data: json.RawMessage(`{"target":"192.168.1.10","status":"up"}`), Command: "nmap", Args: []string{"-sn", "192.168.1.10"}},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(adapter)

	cfg := &config.Config{
		LLMModel:        "mock",
		ApprovalTimeout: 10 * time.Minute,
	}

	svc := New(store, llm.NewMockClient(), rag.NewClient("", time.Second), registry, engine, nil, cfg)
	return svc, adapter
}

func seedSession(t *testing.T, svc *Service, sessionID, userID string) {
	t.Helper()
	require.NoError(t, svc.store.CreateSession(context.Background(), &domain.Session{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}))
}

func TestExecuteToolAutoApproved(t *testing.T) {
	svc, adapter := newTestService(t)
	ctx := context.Background()
	seedSession(t, svc, "s_auto", "u1")

	args := json.RawMessage(`{"target":"192.168.1.10","scan_type":"ping"}`)
	resp, err := svc.ExecuteTool(ctx, tools.ToolScan, args, ExecuteOptions{SessionID: "s_auto", UserID: "u1"})
	require.NoError(t, err)

	assert.False(t, resp.RequiresApproval)
	assert.Equal(t, domain.ToolRunStatusCompleted, resp.ToolRun.Status)
	assert.Equal(t, domain.RiskLevelLow, resp.ToolRun.RiskLevel)
	assert.Equal(t, 1, adapter.calls)
	assert.JSONEq(t, `{"target":"192.168.1.10","status":"up"}`, string(resp.ToolRun.Result))

	// Ping never entered the approval gate.
	assert.Nil(t, resp.ToolRun.ApprovedAt)
	assert.NotNil(t, resp.ToolRun.CompletedAt)

	actions := auditActions(resp.ToolRun)
	assert.Equal(t, []string{domain.AuditActionCreated, domain.AuditActionExecuted, domain.AuditActionCompleted}, actions)
}

func TestExecuteToolRequiresApproval(t *testing.T) {
	svc, adapter := newTestService(t)
	ctx := context.Background()
	seedSession(t, svc, "s_gate", "u1")

	args := json.RawMessage(`{"target":"192.168.1.10","scan_type":"version"}`)
	resp, err := svc.ExecuteTool(ctx, tools.ToolScan, args, ExecuteOptions{SessionID: "s_gate", UserID: "u1"})
	require.NoError(t, err)

	assert.True(t, resp.RequiresApproval)
	assert.Equal(t, domain.ToolRunStatusPending, resp.ToolRun.Status)
	assert.Equal(t, domain.RiskLevelHigh, resp.ToolRun.RiskLevel)
	assert.Equal(t, 0, adapter.calls, "gated run must not execute before approval")
}

func TestExecuteToolOutOfScope(t *testing.T) {
	svc, adapter := newTestService(t)
	ctx := context.Background()
	seedSession(t, svc, "s_oos", "u1")

	args := json.RawMessage(`{"target":"8.8.8.8","scan_type":"ping"}`)
	_, err := svc.ExecuteTool(ctx, tools.ToolScan, args, ExecuteOptions{SessionID: "s_oos", UserID: "u1"})
	require.ErrorIs(t, err, ErrOutOfScope)
	assert.Equal(t, 0, adapter.calls, "out-of-scope run must never spawn")

	// The violation is still recorded, terminally failed.
	runs, err := svc.store.ListExpiredPending(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "violation must not linger as pending")
}

func TestExecuteToolUnknownTool(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ExecuteTool(context.Background(), "rm-rf", json.RawMessage(`{}`), ExecuteOptions{SessionID: "s", UserID: "u1"})
	assert.ErrorIs(t, err, ErrUnsupportedTool)
}

func TestApproveToolRunExecutes(t *testing.T) {
	svc, adapter := newTestService(t)
	ctx := context.Background()
	seedSession(t, svc, "s_appr", "u1")

	args := json.RawMessage(`{"target":"192.168.1.10","scan_type":"version"}`)
	created, err := svc.ExecuteTool(ctx, tools.ToolScan, args, ExecuteOptions{SessionID: "s_appr", UserID: "u1"})
	require.NoError(t, err)
	require.True(t, created.RequiresApproval)

	resp, err := svc.ApproveToolRun(ctx, created.ToolRun.ToolRunID, "operator-7")
	require.NoError(t, err)

	assert.Equal(t, domain.ToolRunStatusCompleted, resp.ToolRun.Status)
	assert.Equal(t, "operator-7", resp.ToolRun.ApprovedBy)
	assert.Equal(t, 1, adapter.calls)

	actions := auditActions(resp.ToolRun)
	assert.Equal(t, []string{domain.AuditActionCreated, domain.AuditActionApproved, domain.AuditActionExecuted, domain.AuditActionCompleted}, actions)

	// Deciding again conflicts: the run is terminal.
	_, err = svc.ApproveToolRun(ctx, created.ToolRun.ToolRunID, "operator-8")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = svc.RejectToolRun(ctx, created.ToolRun.ToolRunID, "operator-8", "too late")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRejectToolRun(t *testing.T) {
	svc, adapter := newTestService(t)
	ctx := context.Background()
	seedSession(t, svc, "s_rej", "u1")

	args := json.RawMessage(`{"target":"192.168.1.10","scan_type":"connect"}`)
	created, err := svc.ExecuteTool(ctx, tools.ToolScan, args, ExecuteOptions{SessionID: "s_rej", UserID: "u1"})
	require.NoError(t, err)
	require.True(t, created.RequiresApproval)

	resp, err := svc.RejectToolRun(ctx, created.ToolRun.ToolRunID, "operator-7", "not during business hours")
	require.NoError(t, err)

	assert.Equal(t, domain.ToolRunStatusFailed, resp.ToolRun.Status)
	assert.Contains(t, resp.ToolRun.ErrorMessage, "not during business hours")
	assert.Equal(t, 0, adapter.calls, "rejected run must never execute")
}

func TestApprovalNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ApproveToolRun(context.Background(), "tr_missing", "operator-7")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPendingApprovals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedSession(t, svc, "s_list", "u1")

	gated := json.RawMessage(`{"target":"192.168.1.10","scan_type":"version"}`)
	auto := json.RawMessage(`{"target":"192.168.1.10","scan_type":"ping"}`)
	_, err := svc.ExecuteTool(ctx, tools.ToolScan, gated, ExecuteOptions{SessionID: "s_list", UserID: "u1"})
	require.NoError(t, err)
	_, err = svc.ExecuteTool(ctx, tools.ToolScan, auto, ExecuteOptions{SessionID: "s_list", UserID: "u1"})
	require.NoError(t, err)

	pending, err := svc.ListPendingApprovals(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.ToolRunStatusPending, pending[0].Status)
	assert.True(t, pending[0].ApprovalRequired)
}

func TestApprovalExpirySweep(t *testing.T) {
	svc, adapter := newTestService(t)
	svc.config.ApprovalTimeout = time.Millisecond
	ctx := context.Background()
	seedSession(t, svc, "s_exp", "u1")

	args := json.RawMessage(`{"target":"192.168.1.10","scan_type":"version"}`)
	created, err := svc.ExecuteTool(ctx, tools.ToolScan, args, ExecuteOptions{SessionID: "s_exp", UserID: "u1"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	svc.sweepExpiredApprovals(ctx)

	run, err := svc.GetToolRun(ctx, created.ToolRun.ToolRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.ToolRunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "expired")
	assert.Equal(t, 0, adapter.calls)
	assert.Contains(t, auditActions(run), domain.AuditActionExpired)

	// An expired run can no longer be approved.
	_, err = svc.ApproveToolRun(ctx, created.ToolRun.ToolRunID, "operator-7")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestClassifyIntentRouting(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		message string
		want    domain.IntentType
	}{
		{"scan 192.168.1.10 for me", domain.IntentToolExecution},
		{"plan an assessment of the lab", domain.IntentPlanning},
		{"what is a reverse shell", domain.IntentRAGQuery},
		{"hello there", domain.IntentCasualChat},
	}
	for _, tc := range cases {
		intent := svc.classifyIntent(ctx, tc.message, nil)
		assert.Equal(t, tc.want, intent.Type, "message %q", tc.message)
	}
}

func TestClassifyIntentFailsSoft(t *testing.T) {
	svc, _ := newTestService(t)
	svc.llm = &flakyLLM{}

	intent := svc.classifyIntent(context.Background(), "scan the network", nil)
	assert.Equal(t, domain.IntentCasualChat, intent.Type)
	assert.Less(t, intent.Confidence, 0.5)
}

func TestProcessMessageToolFlow(t *testing.T) {
	svc, adapter := newTestService(t)
	ctx := context.Background()

	resp, err := svc.ProcessMessage(ctx, domain.ProcessMessageRequest{
		Message: "scan 192.168.1.10",
		UserID:  "u1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.IntentToolExecution, resp.Intent)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, domain.ToolRunStatusCompleted, resp.ToolCalls[0].Status)
	assert.Equal(t, 1, adapter.calls)
	assert.NotEmpty(t, resp.Content)
}

func TestProcessMessagePlanFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.ProcessMessage(ctx, domain.ProcessMessageRequest{
		Message:   "plan an assessment of 192.168.1.10",
		SessionID: "s_plan",
		UserID:    "u1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.IntentPlanning, resp.Intent)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, domain.PlanStatusExecuting, resp.Plan.Status)
	assert.Len(t, resp.Plan.Steps, 3)

	// The plan is retrievable for the session afterwards.
	got := svc.GetPlan("s_plan")
	require.NotNil(t, got)
	assert.Equal(t, resp.Plan.PlanID, got.PlanID)
}

func TestProcessMessageUnplannableGoal(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.ProcessMessage(context.Background(), domain.ProcessMessageRequest{
		Message: "plan something unplannable",
		UserID:  "u1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, domain.PlanStatusFailed, resp.Plan.Status)
	assert.Empty(t, resp.Plan.Steps)
}

func TestProcessMessagePersistsHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.ProcessMessage(ctx, domain.ProcessMessageRequest{
		Message:   "hello there",
		SessionID: "s_hist",
		UserID:    "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCasualChat, resp.Intent)

	msgs, err := svc.store.GetMessages(ctx, "s_hist", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestProcessMessageChatSurvivesLLMOutage(t *testing.T) {
	svc, _ := newTestService(t)
	svc.llm = &flakyLLM{}

	resp, err := svc.ProcessMessage(context.Background(), domain.ProcessMessageRequest{
		Message: "hello there",
		UserID:  "u1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
}

func TestGetPlanReturnsIsolatedSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.ProcessMessage(ctx, domain.ProcessMessageRequest{
		Message:   "plan an assessment",
		SessionID: "s_snap",
		UserID:    "u1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)

	// Mutating a returned plan never reaches the stored one.
	snapshot := svc.GetPlan("s_snap")
	require.NotNil(t, snapshot)
	snapshot.Status = domain.PlanStatusFailed
	snapshot.Steps[0].Status = domain.StepStatusFailed

	fresh := svc.GetPlan("s_snap")
	assert.Equal(t, domain.PlanStatusExecuting, fresh.Status)
	assert.Equal(t, domain.StepStatusPending, fresh.Steps[0].Status)

	// Step updates become visible to new reads, not to old snapshots.
	svc.UpdatePlanStep("s_snap", fresh.Steps[0].StepID, domain.StepStatusCompleted, nil, "")
	assert.Equal(t, domain.StepStatusPending, fresh.Steps[0].Status)
	assert.Equal(t, domain.StepStatusCompleted, svc.GetPlan("s_snap").Steps[0].Status)
}

func TestConcurrentPlanReadsDuringUpdates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.ProcessMessage(ctx, domain.ProcessMessageRequest{
		Message:   "plan an assessment",
		SessionID: "s_conc",
		UserID:    "u1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)
	stepID := resp.Plan.Steps[0].StepID

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if p := svc.GetPlan("s_conc"); p != nil {
					if _, err := json.Marshal(p); err != nil {
						t.Errorf("marshal failed: %v", err)
						return
					}
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		svc.UpdatePlanStep("s_conc", stepID, domain.StepStatusExecuting, nil, "")
	}
	wg.Wait()
}

func TestUpdatePlanStepAdvancesAndCompletes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.ProcessMessage(ctx, domain.ProcessMessageRequest{
		Message:   "plan an assessment",
		SessionID: "s_step",
		UserID:    "u1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)

	for _, step := range resp.Plan.Steps {
		svc.UpdatePlanStep("s_step", step.StepID, domain.StepStatusCompleted, json.RawMessage(`{"ok":true}`), "")
	}

	final := svc.GetPlan("s_step")
	require.NotNil(t, final)
	assert.Equal(t, domain.PlanStatusCompleted, final.Status)
}

func auditActions(run *domain.ToolRun) []string {
	actions := make([]string, 0, len(run.AuditLog))
	for _, e := range run.AuditLog {
		actions = append(actions, e.Action)
	}
	return actions
}
