// Package service implements the agent orchestration pipeline: intent
// classification, risk assessment, the approval gate and sandboxed tool
// execution.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/secpilot/internal/adapter/llm"
	"github.com/xiaot623/secpilot/internal/adapter/rag"
	"github.com/xiaot623/secpilot/internal/config"
	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/hub"
	"github.com/xiaot623/secpilot/internal/repository"
	"github.com/xiaot623/secpilot/internal/tools"
	"github.com/xiaot623/secpilot/policy"
)

var (
	// ErrNotFound signals a missing record.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a state transition attempted against a record that
	// is no longer in the expected state.
	ErrConflict = errors.New("conflict with current state")
	// ErrUnsupportedTool signals an unknown tool name.
	ErrUnsupportedTool = errors.New("unsupported tool")
	// ErrOutOfScope signals a target outside the allowed address space.
	ErrOutOfScope = errors.New("target outside allowed scope")
)

// Service wires the pipeline together.
type Service struct {
	store    repository.Store
	llm      llm.CompletionClient
	rag      rag.Querier
	registry *tools.Registry
	policy   *policy.Engine
	hub      *hub.Hub
	config   *config.Config
	plans    *planStore
}

// New creates a service. The hub may be nil when no operator push channel is
// wanted (tests, CLI use).
func New(store repository.Store, completion llm.CompletionClient, ragClient rag.Querier, registry *tools.Registry, policyEngine *policy.Engine, eventHub *hub.Hub, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		llm:      completion,
		rag:      ragClient,
		registry: registry,
		policy:   policyEngine,
		hub:      eventHub,
		config:   cfg,
		plans:    newPlanStore(),
	}
}

// publish pushes an event to connected operator clients, if a hub is wired.
func (s *Service) publish(sessionID, eventType string, payload interface{}) {
	if s.hub != nil {
		s.hub.Publish(sessionID, eventType, payload)
	}
}

// audit appends an entry to a tool run's audit log. Audit failures are
// logged by the caller; they never abort the pipeline.
func (s *Service) audit(ctx context.Context, toolRunID string, entry domain.AuditEntry) error {
	if entry.Ts.IsZero() {
		entry.Ts = time.Now()
	}
	return s.store.AppendAudit(ctx, toolRunID, entry)
}
