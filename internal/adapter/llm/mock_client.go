package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient is a deterministic CompletionClient for tests and offline runs.
// Identical requests always produce identical responses.
type MockClient struct{}

// NewMockClient creates a new mock completion client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CreateChatCompletion returns a canned response derived from the request.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	content := m.generateResponse(req)

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%08x", fingerprint(req)),
		Object:  "chat.completion",
		Created: 0,
		Model:   req.Model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      &ChatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     estimateTokens(req),
			CompletionTokens: len(content) / 4,
			TotalTokens:      estimateTokens(req) + len(content)/4,
		},
	}, nil
}

func (m *MockClient) generateResponse(req *ChatCompletionRequest) string {
	system := ""
	lastUser := ""
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "user":
			lastUser = msg.Content
		}
	}
	lower := strings.ToLower(lastUser)

	switch {
	case strings.Contains(system, "intent classifier"):
		return mockIntentJSON(lower)
	case strings.Contains(system, "plan builder"):
		return mockPlanJSON(lower)
	default:
		return "I can help with security assessments of systems you operate. What would you like to look at?"
	}
}

func mockIntentJSON(lower string) string {
	switch {
	case strings.Contains(lower, "plan"):
		return `{"type":"planning","confidence":0.9,"entities":{"topics":["assessment"]}}`
	case strings.Contains(lower, "scan"):
		return `{"type":"tool_execution","confidence":0.9,"entities":{"targets":["192.168.1.10"],"tools":["scan"]}}`
	case strings.Contains(lower, "whois") || strings.Contains(lower, "dns") || strings.Contains(lower, "domain"):
		return `{"type":"tool_execution","confidence":0.85,"entities":{"domains":["example.com"],"tools":["dns-lookup"]}}`
	case strings.Contains(lower, "what is") || strings.Contains(lower, "explain"):
		return `{"type":"rag_query","confidence":0.8,"entities":{"topics":["security"]}}`
	default:
		return `{"type":"casual_chat","confidence":0.6,"entities":{}}`
	}
}

func mockPlanJSON(lower string) string {
	if strings.Contains(lower, "unplannable") {
		return `{"goal":""}`
	}
	return `{
		"goal": "Assess the lab host",
		"steps": [
			{"id": "step-1", "description": "Ping sweep the host", "tool_name": "scan", "arguments": {"target": "192.168.1.10", "scan_type": "ping"}, "risk_level": "low", "requires_approval": false},
			{"id": "step-2", "description": "Enumerate common service ports", "tool_name": "scan", "arguments": {"target": "192.168.1.10", "scan_type": "connect"}, "risk_level": "medium", "requires_approval": true},
			{"id": "step-3", "description": "Summarize findings", "risk_level": "low", "requires_approval": false}
		]
	}`
}

func estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

// fingerprint derives a stable id from the request content.
func fingerprint(req *ChatCompletionRequest) uint32 {
	var h uint32 = 2166136261
	for _, msg := range req.Messages {
		for _, b := range []byte(msg.Content) {
			h ^= uint32(b)
			h *= 16777619
		}
	}
	return h
}
