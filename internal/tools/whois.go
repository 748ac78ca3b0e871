package tools

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/runner"
)

// WhoisArgs are the validated arguments for the whois tool.
type WhoisArgs struct {
	Domain string `json:"domain"`
}

// WhoisResult holds the parsed registration record. Registries vary wildly
// in format, so the raw text is retained alongside the parsed fields; lossy
// parsing must not destroy the source record.
type WhoisResult struct {
	Domain string              `json:"domain"`
	Fields map[string][]string `json:"fields"`
	Raw    string              `json:"raw"`
}

// WhoisAdapter wraps the whois client.
type WhoisAdapter struct {
	run     CommandRunner
	timeout time.Duration
}

// NewWhoisAdapter creates the whois adapter.
func NewWhoisAdapter(run CommandRunner, opts Options) *WhoisAdapter {
	return &WhoisAdapter{run: run, timeout: opts.WhoisTimeout}
}

func (a *WhoisAdapter) Name() string { return ToolWhois }

func (a *WhoisAdapter) Execute(ctx context.Context, raw json.RawMessage) Outcome {
	var args WhoisArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure(domain.RiskLevelLow, "invalid whois arguments: %v", err)
	}
	if !validDomain(args.Domain) {
		return failure(domain.RiskLevelLow, "invalid domain %q", args.Domain)
	}

	cmdArgs := []string{args.Domain}
	res, err := a.run.Run(ctx, runner.Spec{
		Command: "whois",
		Args:    cmdArgs,
		Timeout: a.timeout,
	})
	outcome := Outcome{RiskHint: domain.RiskLevelLow, Command: "whois", Args: cmdArgs}
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	// Some whois clients exit non-zero for unregistered domains while still
	// printing a useful record; only treat empty output as failure.
	if res.ExitCode != 0 && strings.TrimSpace(res.Stdout) == "" {
		outcome.Error = "whois exited with code " + strconv.Itoa(res.ExitCode) + ": " + strings.TrimSpace(res.Stderr)
		return outcome
	}

	result := WhoisResult{
		Domain: args.Domain,
		Fields: parseWhoisFields(res.Stdout),
		Raw:    res.Stdout,
	}
	data, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		outcome.Error = "failed to encode whois result: " + marshalErr.Error()
		return outcome
	}
	outcome.Success = true
	outcome.Data = data
	return outcome
}

// parseWhoisFields does a line-oriented "key: value" parse. Repeated keys
// (name servers, statuses) accumulate in order.
func parseWhoisFields(out string) map[string][]string {
	fields := make(map[string][]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ">>>") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" || value == "" {
			continue
		}
		fields[key] = append(fields[key], value)
	}
	return fields
}
