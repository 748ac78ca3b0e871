package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/secpilot/internal/adapter/llm"
	"github.com/xiaot623/secpilot/internal/adapter/rag"
	"github.com/xiaot623/secpilot/internal/domain"
	"github.com/xiaot623/secpilot/internal/tools"
)

const chatSystemPrompt = `You are a security-operations assistant. You help operators
assess systems they are authorized to test. Be concise and practical. Never suggest
actions against systems the user does not control.`

const ragTopK = 4

// ProcessMessage runs one conversational turn: persist the user message,
// classify it, route to the matching capability and persist the reply.
func (s *Service) ProcessMessage(ctx context.Context, req domain.ProcessMessageRequest) (*domain.ProcessMessageResponse, error) {
	if req.Message == "" {
		return nil, errors.New("message is required")
	}

	sessionID, err := s.ensureSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	// History is loaded before the new message is persisted so prompts do not
	// carry the current turn twice.
	recent, err := s.store.GetMessages(ctx, sessionID, historyWindow)
	if err != nil {
		log.Printf("WARN: failed to load history for %s: %v", sessionID, err)
		recent = nil
	}

	var meta json.RawMessage
	if req.VoiceInput {
		meta = json.RawMessage(`{"voice_input":true}`)
	}
	userMsg := &domain.Message{
		MessageID: "msg_" + uuid.New().String(),
		SessionID: sessionID,
		Role:      "user",
		Content:   req.Message,
		CreatedAt: time.Now(),
		Metadata:  meta,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	intent := s.classifyIntent(ctx, req.Message, recent)

	resp := &domain.ProcessMessageResponse{Intent: intent.Type}
	switch intent.Type {
	case domain.IntentRAGQuery:
		s.answerFromKnowledge(ctx, req.Message, recent, resp)
	case domain.IntentToolExecution:
		s.answerWithTool(ctx, sessionID, req.UserID, userMsg.MessageID, intent.Entities, resp)
	case domain.IntentPlanning:
		s.plans.put(sessionID, s.buildPlan(ctx, sessionID, req.Message, intent.Entities))
		plan := s.plans.get(sessionID)
		s.publish(sessionID, domain.EventTypePlanUpdated, plan)
		resp.Plan = plan
		if plan.Status == domain.PlanStatusFailed {
			resp.Content = "I couldn't build a plan for that goal. Try stating the target and what you want to learn about it."
		} else {
			resp.Content = fmt.Sprintf("I've drafted a %d-step plan: %s. Steps that carry risk will wait for your approval.", len(plan.Steps), plan.Goal)
		}
	default:
		resp.Content = s.plainCompletion(ctx, req.Message, recent)
	}

	assistantMsg := &domain.Message{
		MessageID: "msg_" + uuid.New().String(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   resp.Content,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		log.Printf("WARN: failed to persist assistant message: %v", err)
	}

	return resp, nil
}

// GetSessionMessages returns the persisted history for a session.
func (s *Service) GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	msgs, err := s.store.GetMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return msgs, nil
}

// ensureSession resolves or creates the conversation session.
func (s *Service) ensureSession(ctx context.Context, sessionID, userID string) (string, error) {
	if sessionID != "" {
		existing, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("failed to get session: %w", err)
		}
		if existing != nil {
			return sessionID, nil
		}
	}
	if sessionID == "" {
		sessionID = "s_" + uuid.New().String()
	}
	session := &domain.Session{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// answerFromKnowledge consults the retrieval service and degrades to a plain
// completion when retrieval is disabled or failing.
func (s *Service) answerFromKnowledge(ctx context.Context, message string, recent []domain.Message, resp *domain.ProcessMessageResponse) {
	answer, err := s.rag.Query(ctx, message, ragTopK)
	if err != nil {
		if !errors.Is(err, rag.ErrDisabled) {
			log.Printf("WARN: retrieval query failed, answering without sources: %v", err)
		}
		resp.Content = s.plainCompletion(ctx, message, recent)
		return
	}
	resp.Content = answer.Answer
	resp.RAGUsed = true
	resp.Sources = answer.Sources
}

// answerWithTool maps the extracted entities onto a registered tool and runs
// it through the normal risk/approval pipeline.
func (s *Service) answerWithTool(ctx context.Context, sessionID, userID, messageID string, entities Entities, resp *domain.ProcessMessageResponse) {
	toolName, args := inferToolCall(entities)
	if toolName == "" {
		resp.Content = "I couldn't tell which target or domain you meant. Name the host or domain explicitly, e.g. \"scan 192.168.1.10\"."
		return
	}

	result, err := s.ExecuteTool(ctx, toolName, args, ExecuteOptions{
		SessionID: sessionID,
		UserID:    userID,
		MessageID: messageID,
	})
	if err != nil {
		if errors.Is(err, ErrOutOfScope) {
			resp.Content = "That target is outside the allowed scope. I can only run tools against localhost and private lab ranges."
			return
		}
		log.Printf("WARN: tool execution failed in chat flow: %v", err)
		resp.Content = "The tool run failed: " + err.Error()
		return
	}

	resp.ToolCalls = append(resp.ToolCalls, summarize(result.ToolRun))
	if result.RequiresApproval {
		resp.Content = fmt.Sprintf("This %s run is rated %s risk and needs operator approval before it executes (run %s).",
			toolName, result.ToolRun.RiskLevel, result.ToolRun.ToolRunID)
		return
	}
	if result.ToolRun.Status == domain.ToolRunStatusCompleted {
		resp.Content = fmt.Sprintf("Finished the %s run. Results are attached to run %s.", toolName, result.ToolRun.ToolRunID)
	} else {
		resp.Content = fmt.Sprintf("The %s run did not complete: %s", toolName, result.ToolRun.ErrorMessage)
	}
}

// inferToolCall picks a tool and builds its arguments from extracted
// entities. Returns an empty tool name when nothing actionable was named.
func inferToolCall(entities Entities) (string, json.RawMessage) {
	pick := ""
	for _, t := range entities.Tools {
		if _, ok := knownToolArgs[t]; ok {
			pick = t
			break
		}
	}
	if pick == "" {
		switch {
		case len(entities.Targets) > 0:
			pick = tools.ToolScan
		case len(entities.Domains) > 0:
			pick = tools.ToolDNSLookup
		default:
			return "", nil
		}
	}
	return knownToolArgs[pick](entities)
}

var knownToolArgs = map[string]func(Entities) (string, json.RawMessage){
	tools.ToolScan: func(e Entities) (string, json.RawMessage) {
		if len(e.Targets) == 0 {
			return "", nil
		}
		args, _ := json.Marshal(map[string]string{"target": e.Targets[0], "scan_type": "ping"})
		return tools.ToolScan, args
	},
	tools.ToolDNSLookup: func(e Entities) (string, json.RawMessage) {
		if len(e.Domains) == 0 {
			return "", nil
		}
		args, _ := json.Marshal(map[string]string{"domain": e.Domains[0], "record_type": "A"})
		return tools.ToolDNSLookup, args
	},
	tools.ToolWhois: func(e Entities) (string, json.RawMessage) {
		if len(e.Domains) == 0 {
			return "", nil
		}
		args, _ := json.Marshal(map[string]string{"domain": e.Domains[0]})
		return tools.ToolWhois, args
	},
	tools.ToolDomainIntel: func(e Entities) (string, json.RawMessage) {
		if len(e.Domains) == 0 {
			return "", nil
		}
		args, _ := json.Marshal(map[string]string{"domain": e.Domains[0]})
		return tools.ToolDomainIntel, args
	},
}

// plainCompletion answers conversationally. Failures degrade to a canned
// reply rather than an error; chat must stay available even when the model
// backend is down.
func (s *Service) plainCompletion(ctx context.Context, message string, recent []domain.Message) string {
	messages := []llm.ChatMessage{{Role: "system", Content: chatSystemPrompt}}
	start := 0
	if len(recent) > historyWindow {
		start = len(recent) - historyWindow
	}
	for _, m := range recent[start:] {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: message})

	temp := 0.7
	result, err := s.llm.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:       s.config.LLMModel,
		Messages:    messages,
		Temperature: &temp,
	})
	if err != nil {
		log.Printf("WARN: completion failed: %v", err)
		return "I'm having trouble reaching the language model right now. Tool execution and approvals still work; try again in a moment."
	}
	content := result.FirstContent()
	if content == "" {
		return "I'm having trouble reaching the language model right now. Tool execution and approvals still work; try again in a moment."
	}
	return content
}
