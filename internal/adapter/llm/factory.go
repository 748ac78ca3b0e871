package llm

import (
	"log"
	"os"
	"time"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "SECPILOT_MODE"
	// ModeMock indicates the mock client should be used.
	ModeMock = "MOCK"
)

// NewCompletionClient creates a completion client based on the SECPILOT_MODE
// environment variable. SECPILOT_MODE=MOCK returns the deterministic mock.
func NewCompletionClient(baseURL, apiKey string, timeout time.Duration) CompletionClient {
	if os.Getenv(EnvMode) == ModeMock {
		log.Println("SECPILOT_MODE=MOCK detected, using mock completion client")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
