// Package config provides configuration for the assistant.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the assistant configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Completion capability
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// RAG capability (optional; empty disables)
	RAGBaseURL string
	RAGTimeout time.Duration

	// Tool execution limits
	ToolTimeout    time.Duration
	MaxOutputBytes int64
	ScanTopPorts   int

	// Approval gate. Zero disables pending-approval expiry.
	ApprovalTimeout time.Duration

	// RiskPolicyPath overrides the built-in rego risk policy when set.
	RiskPolicyPath string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:     getEnv("DATABASE_URL", "file:secpilot.db?cache=shared&mode=rwc"),
		LLMBaseURL:      getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:       getEnv("LLM_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:      time.Duration(getEnvInt("LLM_TIMEOUT_MS", 30000)) * time.Millisecond,
		RAGBaseURL:      getEnv("RAG_BASE_URL", ""),
		RAGTimeout:      time.Duration(getEnvInt("RAG_TIMEOUT_MS", 15000)) * time.Millisecond,
		ToolTimeout:     time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 120000)) * time.Millisecond,
		MaxOutputBytes:  int64(getEnvInt("TOOL_MAX_OUTPUT_BYTES", 1<<20)),
		ScanTopPorts:    getEnvInt("SCAN_TOP_PORTS", 50),
		ApprovalTimeout: time.Duration(getEnvInt("APPROVAL_TIMEOUT_MS", 600000)) * time.Millisecond,
		RiskPolicyPath:  getEnv("RISK_POLICY_PATH", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
