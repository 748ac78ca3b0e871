// Package tools contains the adapters for the supported external tools and
// the registry they are looked up from.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/runner"
)

// Tool names understood by the pipeline.
const (
	ToolScan        = "scan"
	ToolDNSLookup   = "dns-lookup"
	ToolWhois       = "whois"
	ToolDomainIntel = "domain-intel"
)

// CommandRunner abstracts process execution so adapters can be tested with a
// stub runner.
type CommandRunner interface {
	Run(ctx context.Context, spec runner.Spec) (runner.Result, error)
}

// Outcome is the result of one adapter execution. Adapters report failures
// through Error instead of panicking or returning Go errors past the adapter
// boundary, so a raising adapter can never leave a tool run stuck mid-flight.
type Outcome struct {
	Success  bool
	Data     json.RawMessage
	Error    string
	RiskHint domain.RiskLevel
	// Command and Args record the exact invocation for the audit log. They
	// are set even when the adapter refused to spawn.
	Command string
	Args    []string
}

func failure(hint domain.RiskLevel, format string, args ...any) Outcome {
	return Outcome{Success: false, Error: fmt.Sprintf(format, args...), RiskHint: hint}
}

// Adapter executes one supported tool type.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, args json.RawMessage) Outcome
}

// Registry stores adapters keyed by tool name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its tool name.
func (r *Registry) Register(a Adapter) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("adapter with a name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Name()]; exists {
		return fmt.Errorf("adapter already registered for %s", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// MustRegister adds an adapter or panics.
func (r *Registry) MustRegister(a Adapter) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Get returns the adapter for a tool name.
func (r *Registry) Get(toolName string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[toolName]
	return a, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Options bounds adapter behavior regardless of caller input.
type Options struct {
	ScanTopPorts int
	ScanTimeout  time.Duration
	DNSTimeout   time.Duration
	WhoisTimeout time.Duration
}

// NewBuiltinRegistry creates a registry with all supported adapters wired to
// the given command runner.
func NewBuiltinRegistry(run CommandRunner, opts Options) *Registry {
	r := NewRegistry()
	r.MustRegister(NewScanAdapter(run, opts))
	r.MustRegister(NewDNSAdapter(run, opts))
	r.MustRegister(NewWhoisAdapter(run, opts))
	r.MustRegister(NewDomainIntelAdapter(run, opts))
	return r
}

// TargetOf extracts the network target from tool arguments, for the tools
// that have one. Only scan targets are subject to the scope policy; domain
// lookups are passive and may reference public names.
func TargetOf(toolName string, args json.RawMessage) string {
	if toolName != ToolScan {
		return ""
	}
	var probe struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(args, &probe); err != nil {
		return ""
	}
	return probe.Target
}

// ArgsMap decodes arguments into a generic map for policy evaluation.
func ArgsMap(args json.RawMessage) map[string]any {
	m := map[string]any{}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &m)
	}
	return m
}
