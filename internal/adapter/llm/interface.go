// Package llm provides the external text-completion capability consumed by
// the intent classifier and the plan builder.
package llm

import "context"

// CompletionClient defines the completion capability. Implementations must
// support a JSON-constrained response mode via ChatCompletionRequest.ResponseFormat.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// Ensure both implementations satisfy the interface.
var (
	_ CompletionClient = (*Client)(nil)
	_ CompletionClient = (*MockClient)(nil)
)
