package tools

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/runner"
	"github.com/xiaot623/secpilot/internal/scope"
)

const (
	maxTopPorts     = 100
	defaultTopPorts = 50
	scanMaxRate     = "50"
)

// ScanArgs are the validated arguments for the scan tool.
type ScanArgs struct {
	Target   string `json:"target"`
	ScanType string `json:"scan_type"`
	TopPorts int    `json:"top_ports,omitempty"`
}

// PortInfo is one parsed port row from the scanner output.
type PortInfo struct {
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
}

// ScanResult is the structured scan outcome.
type ScanResult struct {
	Target string     `json:"target"`
	Status string     `json:"status"`
	Ports  []PortInfo `json:"ports"`
}

// ScanAdapter wraps nmap. It never spawns for an out-of-scope target and
// forces polite timing and a hard port-count cap regardless of caller input.
type ScanAdapter struct {
	run      CommandRunner
	topPorts int
	timeout  time.Duration
}

// NewScanAdapter creates the scan adapter.
func NewScanAdapter(run CommandRunner, opts Options) *ScanAdapter {
	topPorts := opts.ScanTopPorts
	if topPorts <= 0 || topPorts > maxTopPorts {
		topPorts = defaultTopPorts
	}
	return &ScanAdapter{run: run, topPorts: topPorts, timeout: opts.ScanTimeout}
}

func (a *ScanAdapter) Name() string { return ToolScan }

// Execute runs one scan. The target is re-checked against the scope policy
// here, after the risk assessor already did, so a bug upstream still cannot
// reach a spawn for an out-of-scope address.
func (a *ScanAdapter) Execute(ctx context.Context, raw json.RawMessage) Outcome {
	var args ScanArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure(domain.RiskLevelLow, "invalid scan arguments: %v", err)
	}
	if args.Target == "" {
		return failure(domain.RiskLevelLow, "scan target is required")
	}
	if !scope.IsAllowed(args.Target) {
		return failure(domain.RiskLevelHigh, "target %s is outside the allowed scope", args.Target)
	}

	hint := domain.RiskLevelLow
	cmdArgs := []string{"-T2", "--max-rate", scanMaxRate}
	switch args.ScanType {
	case "", "ping":
		cmdArgs = append(cmdArgs, "-sn")
	case "connect":
		hint = domain.RiskLevelMedium
		cmdArgs = append(cmdArgs, "-sT", "--top-ports", strconv.Itoa(a.capTopPorts(args.TopPorts)))
	case "version":
		hint = domain.RiskLevelHigh
		cmdArgs = append(cmdArgs, "-sT", "-sV", "--top-ports", strconv.Itoa(a.capTopPorts(args.TopPorts)))
	default:
		return failure(domain.RiskLevelLow, "unsupported scan type %q", args.ScanType)
	}
	cmdArgs = append(cmdArgs, "-oG", "-", args.Target)

	res, err := a.run.Run(ctx, runner.Spec{
		Command: "nmap",
		Args:    cmdArgs,
		Timeout: a.timeout,
	})
	outcome := Outcome{RiskHint: hint, Command: "nmap", Args: cmdArgs}
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	if res.ExitCode != 0 {
		outcome.Error = "nmap exited with code " + strconv.Itoa(res.ExitCode) + ": " + strings.TrimSpace(res.Stderr)
		return outcome
	}

	result := parseGrepableOutput(args.Target, res.Stdout)
	data, err := json.Marshal(result)
	if err != nil {
		outcome.Error = "failed to encode scan result: " + err.Error()
		return outcome
	}
	outcome.Success = true
	outcome.Data = data
	return outcome
}

func (a *ScanAdapter) capTopPorts(requested int) int {
	if requested <= 0 {
		return a.topPorts
	}
	if requested > maxTopPorts {
		return maxTopPorts
	}
	return requested
}

// parseGrepableOutput parses nmap -oG output into a ScanResult. Port entries
// look like "80/open/tcp//http///"; ping-only scans report host status lines
// instead.
func parseGrepableOutput(target, out string) ScanResult {
	result := ScanResult{Target: target, Status: "down", Ports: []PortInfo{}}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Host:") {
			continue
		}
		if strings.Contains(line, "Status: Up") {
			result.Status = "up"
		}
		idx := strings.Index(line, "Ports:")
		if idx < 0 {
			continue
		}
		portsField := line[idx+len("Ports:"):]
		if end := strings.Index(portsField, "\tIgnored State:"); end >= 0 {
			portsField = portsField[:end]
		}
		for _, entry := range strings.Split(portsField, ",") {
			fields := strings.Split(strings.TrimSpace(entry), "/")
			if len(fields) < 5 {
				continue
			}
			port, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			result.Status = "up"
			result.Ports = append(result.Ports, PortInfo{
				Port:     port,
				State:    fields[1],
				Protocol: fields[2],
				Service:  fields[4],
			})
		}
	}
	return result
}
