package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/runner"
)

var domainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

var supportedRecordTypes = map[string]bool{
	"A": true, "AAAA": true, "MX": true, "TXT": true, "NS": true, "CNAME": true,
}

// validDomain rejects anything that could smuggle extra arguments or options
// into the spawned lookup command.
func validDomain(domain string) bool {
	return len(domain) <= 253 && domainPattern.MatchString(domain)
}

// DNSArgs are the validated arguments for the dns-lookup tool.
type DNSArgs struct {
	Domain     string `json:"domain"`
	RecordType string `json:"record_type,omitempty"`
}

// DNSResult is the structured lookup outcome. Values is the raw list of
// resolved values; a domain that does not resolve yields an empty list, not
// an error.
type DNSResult struct {
	Domain     string   `json:"domain"`
	RecordType string   `json:"record_type"`
	Values     []string `json:"values"`
}

// DNSAdapter wraps dig for single record-type queries.
type DNSAdapter struct {
	run     CommandRunner
	timeout time.Duration
}

// NewDNSAdapter creates the dns-lookup adapter.
func NewDNSAdapter(run CommandRunner, opts Options) *DNSAdapter {
	return &DNSAdapter{run: run, timeout: opts.DNSTimeout}
}

func (a *DNSAdapter) Name() string { return ToolDNSLookup }

func (a *DNSAdapter) Execute(ctx context.Context, raw json.RawMessage) Outcome {
	var args DNSArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure(domain.RiskLevelLow, "invalid dns-lookup arguments: %v", err)
	}
	if !validDomain(args.Domain) {
		return failure(domain.RiskLevelLow, "invalid domain %q", args.Domain)
	}
	recordType := strings.ToUpper(args.RecordType)
	if recordType == "" {
		recordType = "A"
	}
	if !supportedRecordTypes[recordType] {
		return failure(domain.RiskLevelLow, "unsupported record type %q", args.RecordType)
	}

	values, cmdArgs, err := digShort(ctx, a.run, args.Domain, recordType, a.timeout)
	outcome := Outcome{RiskHint: domain.RiskLevelLow, Command: "dig", Args: cmdArgs}
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	data, marshalErr := json.Marshal(DNSResult{Domain: args.Domain, RecordType: recordType, Values: values})
	if marshalErr != nil {
		outcome.Error = "failed to encode dns result: " + marshalErr.Error()
		return outcome
	}
	outcome.Success = true
	outcome.Data = data
	return outcome
}

// digShort runs one +short query and returns the resolved values. A name
// that does not resolve returns an empty slice; only transport-level lookup
// failures are errors.
func digShort(ctx context.Context, run CommandRunner, name, recordType string, timeout time.Duration) ([]string, []string, error) {
	cmdArgs := []string{"+short", "+time=2", "+tries=1", name, recordType}
	res, err := run.Run(ctx, runner.Spec{
		Command: "dig",
		Args:    cmdArgs,
		Timeout: timeout,
	})
	if err != nil {
		return nil, cmdArgs, err
	}
	if res.ExitCode != 0 {
		return nil, cmdArgs, &lookupError{name: name, detail: strings.TrimSpace(res.Stderr), code: res.ExitCode}
	}

	values := []string{}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			values = append(values, line)
		}
	}
	return values, cmdArgs, nil
}

type lookupError struct {
	name   string
	detail string
	code   int
}

func (e *lookupError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("dns lookup for %s failed with exit code %d", e.name, e.code)
	}
	return "dns lookup for " + e.name + " failed: " + e.detail
}
