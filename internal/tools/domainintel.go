package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xiaot623/secpilot/internal/domain"
)

// subdomainPrefixes is the fixed candidate list for passive enumeration.
var subdomainPrefixes = []string{
	"www", "mail", "smtp", "webmail", "ftp", "api", "dev", "staging", "test",
	"admin", "portal", "vpn", "ns1", "ns2", "blog", "shop", "cdn", "docs",
}

// DomainIntelArgs are the validated arguments for the domain-intel tool.
type DomainIntelArgs struct {
	Domain string `json:"domain"`
}

// SubdomainInfo is one candidate that resolved.
type SubdomainInfo struct {
	Subdomain string   `json:"subdomain"`
	Records   []string `json:"records"`
}

// DomainIntelResult is the structured enumeration outcome.
type DomainIntelResult struct {
	Domain     string          `json:"domain"`
	Checked    int             `json:"checked"`
	Subdomains []SubdomainInfo `json:"subdomains"`
}

// DomainIntelAdapter enumerates subdomains passively: one DNS lookup per
// fixed candidate prefix, nothing else. No connection attempts are made, so
// the tool stays within a passive risk classification.
type DomainIntelAdapter struct {
	run     CommandRunner
	timeout time.Duration
}

// NewDomainIntelAdapter creates the domain-intel adapter.
func NewDomainIntelAdapter(run CommandRunner, opts Options) *DomainIntelAdapter {
	return &DomainIntelAdapter{run: run, timeout: opts.DNSTimeout}
}

func (a *DomainIntelAdapter) Name() string { return ToolDomainIntel }

func (a *DomainIntelAdapter) Execute(ctx context.Context, raw json.RawMessage) Outcome {
	var args DomainIntelArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure(domain.RiskLevelLow, "invalid domain-intel arguments: %v", err)
	}
	if !validDomain(args.Domain) {
		return failure(domain.RiskLevelLow, "invalid domain %q", args.Domain)
	}

	result := DomainIntelResult{
		Domain:     args.Domain,
		Checked:    len(subdomainPrefixes),
		Subdomains: []SubdomainInfo{},
	}

	outcome := Outcome{RiskHint: domain.RiskLevelLow, Command: "dig"}
	for _, prefix := range subdomainPrefixes {
		if ctx.Err() != nil {
			outcome.Error = ctx.Err().Error()
			return outcome
		}
		candidate := prefix + "." + args.Domain
		// Candidates that fail to resolve are simply absent from the result;
		// per-candidate lookup errors are treated the same way.
		values, _, err := digShort(ctx, a.run, candidate, "A", a.timeout)
		if err != nil || len(values) == 0 {
			continue
		}
		result.Subdomains = append(result.Subdomains, SubdomainInfo{
			Subdomain: candidate,
			Records:   values,
		})
	}

	data, err := json.Marshal(result)
	if err != nil {
		outcome.Error = "failed to encode domain-intel result: " + err.Error()
		return outcome
	}
	outcome.Success = true
	outcome.Data = data
	return outcome
}
