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

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ensembleerrors "github.com/tombee/ensemble/pkg/errors"
	"github.com/tombee/ensemble/pkg/llm"
)

// messagesServer answers every request with status and body, recording the
// decoded request.
func messagesServer(t *testing.T, status int, body string, got *anthropicRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if got != nil {
			require.NoError(t, json.Unmarshal(raw, got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, baseURL string) *AnthropicProvider {
	t.Helper()
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: baseURL})
	require.NoError(t, err)
	return p
}

func TestNewAnthropicProvider(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	var cfgErr *ensembleerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, AnthropicBaseURL, p.baseURL)
	assert.Equal(t, DefaultAnthropicModel, p.model)
	assert.Equal(t, 2024, p.maxTokens)
}

func TestComplete_TextResponse(t *testing.T) {
	var got anthropicRequest
	srv := messagesServer(t, http.StatusOK, `{
		"id": "msg_1", "type": "message", "role": "assistant",
		"model": "claude-3-7-sonnet-20250219",
		"content": [{"type": "text", "text": "Hello there"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 3}
	}`, &got)
	p := newTestProvider(t, srv.URL)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: "be brief"},
			{Role: llm.MessageRoleUser, Content: "hi"},
		},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", resp.Content)
	assert.False(t, resp.HasToolCalls())
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)

	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, 100, got.MaxTokens)
	assert.Equal(t, DefaultAnthropicModel, got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestComplete_ToolUseResponse(t *testing.T) {
	srv := messagesServer(t, http.StatusOK, `{
		"model": "m",
		"content": [
			{"type": "text", "text": "Let me search."},
			{"type": "tool_use", "id": "toolu_1", "name": "search_papers", "input": {"topic": "quantum computing", "max_results": 2}},
			{"type": "tool_use", "id": "toolu_2", "name": "noop"}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`, nil)
	p := newTestProvider(t, srv.URL)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "find papers"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me search.", resp.Content)
	assert.Equal(t, llm.FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "search_papers", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"topic":"quantum computing","max_results":2}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, "{}", resp.ToolCalls[1].Arguments)
}

func TestBuildAPIRequest_MergesToolResults(t *testing.T) {
	p := newTestProvider(t, "http://unused")
	req, err := p.buildAPIRequest(llm.CompletionRequest{
		Model: "custom",
		Messages: []llm.Message{
			{Role: llm.MessageRoleUser, Content: "q"},
			{Role: llm.MessageRoleAssistant, Content: "calling", ToolCalls: []llm.ToolCall{
				{ID: "a", Name: "t1", Arguments: `{"x":1}`},
				{ID: "b", Name: "t2", Arguments: ``},
			}},
			{Role: llm.MessageRoleTool, ToolCallID: "a", Content: "one"},
			{Role: llm.MessageRoleTool, ToolCallID: "b", Content: "Error executing t2: boom", IsError: true},
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "custom", req.Model)
	require.Len(t, req.Messages, 3)

	assistant := req.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 3)
	assert.Equal(t, "tool_use", assistant.Content[1].Type)
	assert.JSONEq(t, `{"x":1}`, string(assistant.Content[1].Input))
	assert.JSONEq(t, `{}`, string(assistant.Content[2].Input))

	results := req.Messages[2]
	assert.Equal(t, "user", results.Role)
	require.Len(t, results.Content, 2)
	assert.Equal(t, "tool_result", results.Content[0].Type)
	assert.Equal(t, "a", results.Content[0].ToolUseID)
	assert.True(t, results.Content[1].IsError)
}

func TestBuildAPIRequest_RejectsUnknownRole(t *testing.T) {
	p := newTestProvider(t, "http://unused")
	_, err := p.buildAPIRequest(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "narrator", Content: "x"}},
	}, nil)
	var valErr *ensembleerrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantMsg    string
		wantRetry  bool
		wantSugges string
	}{
		{
			name:       "unauthorized",
			status:     http.StatusUnauthorized,
			body:       `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantMsg:    "invalid x-api-key",
			wantSugges: "ANTHROPIC_API_KEY",
		},
		{
			name:      "overloaded",
			status:    529,
			body:      `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantMsg:   "Overloaded",
			wantRetry: true,
		},
		{
			name:      "non-json body",
			status:    http.StatusBadGateway,
			body:      `upstream down`,
			wantMsg:   "upstream down",
			wantRetry: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := messagesServer(t, tt.status, tt.body, nil)
			p := newTestProvider(t, srv.URL)

			_, err := p.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
			})
			var provErr *ensembleerrors.ProviderError
			require.True(t, errors.As(err, &provErr))
			assert.Equal(t, tt.status, provErr.StatusCode)
			assert.Contains(t, provErr.Message, tt.wantMsg)
			assert.Equal(t, tt.wantRetry, llm.IsRetryable(err))
			if tt.wantSugges != "" {
				assert.Contains(t, provErr.Suggestion, tt.wantSugges)
			}
		})
	}
}

func TestComplete_RetriesDroppedConnection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		if calls.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_2","type":"message","role":"assistant",
			"content":[{"type":"text","text":"back"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	t.Cleanup(srv.Close)
	p := newTestProvider(t, srv.URL)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "back", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_StatusErrorsAreNotReplayed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	p := newTestProvider(t, srv.URL)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_RequiresMessages(t *testing.T) {
	p := newTestProvider(t, "http://unused")
	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	var valErr *ensembleerrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestTransformTools(t *testing.T) {
	tools, err := transformTools([]llm.Tool{
		{Name: "a", InputSchema: json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`)},
		{Name: "b"},
	})
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.JSONEq(t, `{"type":"object"}`, string(tools[1].InputSchema))

	_, err = transformTools([]llm.Tool{{Name: "bad", InputSchema: json.RawMessage(`[1,2]`)}})
	assert.Error(t, err)

	deep := `{"type":"string"}`
	for i := 0; i < 11; i++ {
		deep = `{"type":"object","properties":{"p":` + deep + `}}`
	}
	_, err = transformTools([]llm.Tool{{Name: "deep", InputSchema: json.RawMessage(deep)}})
	assert.Error(t, err)
}
