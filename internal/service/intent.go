package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/xiaot623/secpilot/internal/adapter/llm"
	"github.com/xiaot623/secpilot/internal/domain"
)

const intentSystemPrompt = `You are the intent classifier for a security-operations assistant.
Label the latest user message with exactly one intent type:
- "rag_query": the user asks for knowledge or an explanation.
- "tool_execution": the user asks to run a concrete security tool (scan, dns-lookup, whois, domain-intel).
- "planning": the user asks for a multi-step assessment plan.
- "casual_chat": anything else.
Respond with a single JSON object:
{"type": "...", "confidence": 0.0-1.0, "entities": {"targets": [], "domains": [], "tools": [], "topics": []}}`

// historyWindow bounds how many recent turns are sent to the classifier.
const historyWindow = 6

// Entities are the values extracted from a user message.
type Entities struct {
	Targets []string `json:"targets,omitempty"`
	Domains []string `json:"domains,omitempty"`
	Tools   []string `json:"tools,omitempty"`
	Topics  []string `json:"topics,omitempty"`
}

// Intent is the classified purpose of a user message.
type Intent struct {
	Type       domain.IntentType `json:"type"`
	Confidence float64           `json:"confidence"`
	Entities   Entities          `json:"entities"`
}

// fallbackIntent is returned whenever classification cannot complete.
// Classification is advisory, not safety critical: the deterministic policy
// guard and risk assessor run regardless of the label, so the classifier
// fails soft instead of propagating errors.
func fallbackIntent() Intent {
	return Intent{Type: domain.IntentCasualChat, Confidence: 0.2}
}

// classifyIntent labels the message using the completion capability.
func (s *Service) classifyIntent(ctx context.Context, message string, recent []domain.Message) Intent {
	messages := []llm.ChatMessage{{Role: "system", Content: intentSystemPrompt}}
	start := 0
	if len(recent) > historyWindow {
		start = len(recent) - historyWindow
	}
	for _, msg := range recent[start:] {
		messages = append(messages, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: message})

	temperature := 0.0
	resp, err := s.llm.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:          s.config.LLMModel,
		Messages:       messages,
		Temperature:    &temperature,
		ResponseFormat: llm.JSONMode(),
	})
	if err != nil {
		log.Printf("WARN: intent classification failed: %v", err)
		return fallbackIntent()
	}

	intent, err := parseIntent(resp.FirstContent())
	if err != nil {
		log.Printf("WARN: intent response rejected: %v", err)
		return fallbackIntent()
	}
	return intent
}

// parseIntent validates the completion output at the deserialization
// boundary; anything off-shape is rejected rather than trusted downstream.
func parseIntent(content string) (Intent, error) {
	content = strings.TrimSpace(content)
	var intent Intent
	if err := json.Unmarshal([]byte(content), &intent); err != nil {
		return Intent{}, err
	}
	if !domain.ValidIntentType(intent.Type) {
		return Intent{}, &schemaError{field: "type", value: string(intent.Type)}
	}
	if intent.Confidence < 0 || intent.Confidence > 1 {
		intent.Confidence = 0.5
	}
	return intent, nil
}

type schemaError struct {
	field string
	value string
}

func (e *schemaError) Error() string {
	return "unexpected value " + e.value + " for field " + e.field
}
