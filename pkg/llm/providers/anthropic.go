// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package providers contains model inference providers.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/ensemble/pkg/errors"
	"github.com/tombee/ensemble/pkg/httpclient"
	"github.com/tombee/ensemble/pkg/llm"
)

const (
	// AnthropicBaseURL is the default base URL for the Anthropic API.
	AnthropicBaseURL = "https://api.anthropic.com/v1"

	// DefaultAnthropicModel is used when a request names no model.
	DefaultAnthropicModel = "claude-3-7-sonnet-20250219"

	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 2024
	maxSchemaDepth      = 10
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides AnthropicBaseURL, mainly for tests and proxies.
	BaseURL string

	// Model is used when a request leaves Model empty.
	Model string

	// MaxTokens is used when a request leaves MaxTokens zero.
	MaxTokens int

	// HTTPClient overrides the shared client built by httpclient.New.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

var _ llm.Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates a new Anthropic provider instance.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, &errors.ConfigError{
			Key:    "model.api_key",
			Reason: "API key is required for the anthropic provider (set ANTHROPIC_API_KEY)",
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		hc := httpclient.DefaultConfig()
		hc.Logger = logger
		// the transport only replays the POST when the connection failed;
		// status codes are left to llm.RetryableProvider, which knows
		// Anthropic's overload codes
		hc.AllowNonIdempotentRetry = true
		hc.ConnectionRetriesOnly = true
		var err error
		client, err = httpclient.New(hc)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	p := &AnthropicProvider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: client,
		logger:     logger.With("provider", "anthropic"),
	}
	if p.baseURL == "" {
		p.baseURL = AnthropicBaseURL
	}
	if p.model == "" {
		p.model = DefaultAnthropicModel
	}
	if p.maxTokens <= 0 {
		p.maxTokens = defaultMaxTokens
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends a completion request to the Anthropic Messages API.
func (p *AnthropicProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	tools, err := transformTools(req.Tools)
	if err != nil {
		return nil, err
	}

	apiReq, err := p.buildAPIRequest(req, tools)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	apiResp, err := p.doRequest(ctx, apiReq, requestID)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("model response",
		"request_id", requestID,
		"model", apiResp.Model,
		"stop_reason", apiResp.StopReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return p.parseResponse(apiResp, requestID), nil
}

// buildAPIRequest converts a CompletionRequest to the wire format.
// Consecutive messages with the same wire role are merged, so the tool
// results answering one assistant turn travel in a single user message.
func (p *AnthropicProvider) buildAPIRequest(req llm.CompletionRequest, tools []anthropicTool) (*anthropicRequest, error) {
	var system []string
	var messages []anthropicMessage

	appendBlocks := func(role string, blocks ...anthropicContent) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case llm.MessageRoleSystem:
			system = append(system, msg.Content)

		case llm.MessageRoleUser:
			appendBlocks("user", anthropicContent{Type: "text", Text: msg.Content})

		case llm.MessageRoleAssistant:
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) || strings.TrimSpace(tc.Arguments) == "" {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			appendBlocks("assistant", blocks...)

		case llm.MessageRoleTool:
			content := msg.Content
			appendBlocks("user", anthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   &content,
				IsError:   msg.IsError,
			})

		default:
			return nil, &errors.ValidationError{
				Field:   fmt.Sprintf("messages[%d].role", i),
				Message: fmt.Sprintf("unsupported message role %q", msg.Role),
			}
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	return &anthropicRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Temperature: req.Temperature,
		Tools:       tools,
	}, nil
}

// doRequest sends the API request and decodes the response body.
func (p *AnthropicProvider) doRequest(ctx context.Context, apiReq *anthropicRequest, requestID string) (*anthropicResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "anthropic",
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "anthropic",
			Message:   fmt.Sprintf("failed to create request: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "anthropic",
			Message:   fmt.Sprintf("request failed: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:   "anthropic",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			RequestID:  requestID,
			Cause:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		provErr := &errors.ProviderError{
			Provider:   "anthropic",
			StatusCode: resp.StatusCode,
			Suggestion: suggestionForStatus(resp.StatusCode),
			RequestID:  requestID,
		}
		var errResp anthropicErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			provErr.Message = errResp.Error.Message
		} else {
			provErr.Message = fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}
		return nil, provErr
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider:  "anthropic",
			Message:   fmt.Sprintf("failed to parse response: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}
	return &apiResp, nil
}

// parseResponse converts the wire response, keeping the order of blocks.
func (p *AnthropicProvider) parseResponse(resp *anthropicResponse, requestID string) *llm.CompletionResponse {
	var text []string
	var toolCalls []llm.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				text = append(text, block.Text)
			}
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 && string(block.Input) != "null" {
				args = string(block.Input)
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	return &llm.CompletionResponse{
		Content:      strings.Join(text, "\n"),
		ToolCalls:    toolCalls,
		FinishReason: mapStopReason(resp.StopReason),
		Usage: llm.TokenUsage{
			InputTokens:         resp.Usage.InputTokens,
			OutputTokens:        resp.Usage.OutputTokens,
			TotalTokens:         resp.Usage.InputTokens + resp.Usage.OutputTokens,
			CacheCreationTokens: resp.Usage.CacheCreationTokens,
			CacheReadTokens:     resp.Usage.CacheReadTokens,
		},
		Model:     resp.Model,
		RequestID: requestID,
		Created:   time.Now(),
	}
}

func suggestionForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that ANTHROPIC_API_KEY is valid"
	case http.StatusForbidden:
		return "Your API key may not have access to this model"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Lower model.requests_per_second or retry later"
	case http.StatusBadRequest:
		return "Check model.name and model.max_tokens in the configuration"
	case 529:
		return "Anthropic API is overloaded. Retry after a short delay"
	default:
		if statusCode >= 500 {
			return "Anthropic API is experiencing issues. Retry after a short delay"
		}
		return ""
	}
}

func mapStopReason(stopReason string) llm.FinishReason {
	switch stopReason {
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	case "refusal":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

// transformTools converts tool definitions to the wire format, rejecting
// schemas nested deeper than maxSchemaDepth.
func transformTools(tools []llm.Tool) ([]anthropicTool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]anthropicTool, len(tools))
	for i, tool := range tools {
		schema := tool.InputSchema
		if len(bytes.TrimSpace(schema)) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(schema, &decoded); err != nil {
			return nil, &errors.ValidationError{
				Field:      fmt.Sprintf("tools[%d].input_schema", i),
				Message:    fmt.Sprintf("tool %q has an invalid input schema: %v", tool.Name, err),
				Suggestion: "The input schema must be a JSON object",
			}
		}
		if err := validateSchemaDepth(decoded, 0, maxSchemaDepth); err != nil {
			return nil, &errors.ValidationError{
				Field:      fmt.Sprintf("tools[%d].input_schema", i),
				Message:    err.Error(),
				Suggestion: fmt.Sprintf("Simplify the tool schema to at most %d levels of nesting", maxSchemaDepth),
			}
		}
		result[i] = anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}
	}
	return result, nil
}

// validateSchemaDepth counts nesting through "properties" and "items".
func validateSchemaDepth(schema map[string]interface{}, depth, maxDepth int) error {
	if depth >= maxDepth {
		return fmt.Errorf("schema nesting depth exceeds maximum of %d levels", maxDepth)
	}
	for key, value := range schema {
		switch v := value.(type) {
		case map[string]interface{}:
			next := depth
			if key == "properties" || key == "items" {
				next++
			}
			if err := validateSchemaDepth(v, next, maxDepth); err != nil {
				return err
			}
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					if err := validateSchemaDepth(m, depth+1, maxDepth); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

// anthropicContent is one content block; which fields are set depends on Type.
type anthropicContent struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string  `json:"tool_use_id,omitempty"`
	Content   *string `json:"content,omitempty"`
	IsError   bool    `json:"is_error,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}
