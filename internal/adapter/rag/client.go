// Package rag provides the external knowledge-base query capability, invoked
// only for knowledge-query intents.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrDisabled is returned when no RAG endpoint is configured.
var ErrDisabled = errors.New("rag capability is not configured")

// Answer is the structured response from the knowledge base.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Querier is the RAG capability consumed by the message pipeline.
type Querier interface {
	Query(ctx context.Context, text string, topK int) (*Answer, error)
	Enabled() bool
}

// Client queries an external RAG service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a RAG client. An empty baseURL disables the capability.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Enabled reports whether a RAG endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Query asks the knowledge base for an answer with sources.
func (c *Client) Query(ctx context.Context, text string, topK int) (*Answer, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	body, err := json.Marshal(queryRequest{Query: text, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rag query failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rag response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rag service returned status %d", httpResp.StatusCode)
	}

	var answer Answer
	if err := json.Unmarshal(respBody, &answer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rag response: %w", err)
	}
	return &answer, nil
}
