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

// Package engine drives a conversation between the user, the model and the
// tools of the connected servers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/ensemble/internal/log"
	"github.com/tombee/ensemble/internal/mcp"
	"github.com/tombee/ensemble/internal/metrics"
	"github.com/tombee/ensemble/internal/registry"
	"github.com/tombee/ensemble/internal/tracing"
	"github.com/tombee/ensemble/pkg/llm"
)

// DefaultMaxSteps bounds the model/tool round trips of one query.
const DefaultMaxSteps = 25

// Dispatcher executes tool invocations.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv registry.Invocation) (*registry.ToolResult, error)
}

// ToolSource lists the tools offered to the model.
type ToolSource interface {
	AllTools() []mcp.ToolDefinition
}

// Observer is told about progress within a query.
type Observer interface {
	// InterimText receives text the model sent alongside tool calls.
	InterimText(text string)
	// ToolCall is called before a tool runs, with its JSON arguments.
	ToolCall(name, arguments string)
	// ToolResult is called after a tool ran.
	ToolResult(name, content string, isError bool)
}

type nopObserver struct{}

func (nopObserver) InterimText(string)              {}
func (nopObserver) ToolCall(string, string)         {}
func (nopObserver) ToolResult(string, string, bool) {}

// Config configures an Engine.
type Config struct {
	Provider   llm.Provider
	Dispatcher Dispatcher
	Tools      ToolSource

	// Model and MaxTokens are passed to the provider; zero values leave the
	// choice to the provider.
	Model     string
	MaxTokens int

	// MaxSteps is the tool round budget per query (default DefaultMaxSteps).
	MaxSteps int

	// SystemPrompt is sent with every request but not stored as a turn.
	SystemPrompt string

	Observer Observer
	Logger   *slog.Logger
}

// Result is the outcome of one query.
type Result struct {
	ConversationID string

	// Text is the final answer, or a notice when Truncated.
	Text string

	// Truncated is set when the step budget ran out before a final answer.
	Truncated bool

	// Rounds is the number of completed tool rounds.
	Rounds    int
	ToolCalls int
	Usage     llm.TokenUsage

	// States lists the loop states visited, starting with StateAwaitingModel.
	States   []State
	Duration time.Duration
}

// Engine holds one conversation and processes queries against it, one at
// a time.
type Engine struct {
	provider     llm.Provider
	dispatcher   Dispatcher
	tools        ToolSource
	model        string
	maxTokens    int
	maxSteps     int
	systemPrompt string
	observer     Observer
	logger       *slog.Logger
	tracer       trace.Tracer

	mu   sync.Mutex
	conv *Conversation
}

// New creates an engine with an empty conversation.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, errors.New("engine: provider is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("engine: dispatcher is required")
	}
	e := &Engine{
		provider:     cfg.Provider,
		dispatcher:   cfg.Dispatcher,
		tools:        cfg.Tools,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		maxSteps:     cfg.MaxSteps,
		systemPrompt: cfg.SystemPrompt,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
		tracer:       tracing.Tracer("ensemble/engine"),
		conv:         newConversation(),
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultMaxSteps
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = log.WithComponent(e.logger, "engine")
	return e, nil
}

// Conversation returns a snapshot of the current conversation.
func (e *Engine) Conversation() *Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.clone()
}

// Clear starts a new, empty conversation.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.conv.ID
	e.conv = newConversation()
	e.logger.Debug("conversation cleared",
		slog.String("previous", old),
		slog.String(log.ConversationIDKey, e.conv.ID))
}

// Process runs query to completion: the model is asked, any tool calls it
// makes are executed in order and answered, and the model is asked again
// until it replies with text only or the step budget is spent.
//
// A failing tool becomes an error result the model can see. A failing
// model request returns *ModelInferenceError and leaves the conversation
// usable for the next query.
func (e *Engine) Process(ctx context.Context, query string) (_ *Result, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	conv := e.conv
	logger := log.WithConversation(e.logger, conv.ID)

	ctx, span := e.tracer.Start(ctx, "conversation.query",
		trace.WithAttributes(attribute.String("conversation.id", conv.ID)))
	defer func() { tracing.EndSpan(span, err) }()

	result := &Result{ConversationID: conv.ID}
	lp := newLoop(logger)
	defer func() {
		result.States = lp.trace
		result.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("conversation.rounds", result.Rounds),
			attribute.Bool("conversation.truncated", result.Truncated))
	}()

	tools := e.modelTools()
	conv.appendUser(query)
	logger.Debug("processing query", slog.Int("tools", len(tools)))

	for {
		resp, err := e.complete(ctx, conv, tools, result.Rounds)
		if err != nil {
			metrics.RecordQuery(metrics.OutcomeFailed, result.Rounds)
			return result, err
		}
		addUsage(&result.Usage, resp.Usage)

		if !resp.HasToolCalls() {
			conv.appendAssistant(resp.Content, nil)
			if err := lp.fire(ctx, eventFinal); err != nil {
				return result, err
			}
			result.Text = resp.Content
			metrics.RecordQuery(metrics.OutcomeDone, result.Rounds)
			logger.Debug("query done", slog.Int("rounds", result.Rounds))
			return result, nil
		}

		if resp.Content != "" {
			e.observer.InterimText(resp.Content)
		}

		// record every call before running any of them
		calls := withIDs(resp.ToolCalls)
		conv.appendAssistant(resp.Content, calls)
		if err := lp.fire(ctx, eventToolUse); err != nil {
			return result, err
		}

		for _, call := range calls {
			content, isError := e.execute(ctx, logger, call)
			conv.appendToolResult(call.ID, call.Name, content, isError)
			result.ToolCalls++
		}
		result.Rounds++

		if result.Rounds >= e.maxSteps {
			if err := lp.fire(ctx, eventTruncate); err != nil {
				return result, err
			}
			result.Truncated = true
			result.Text = fmt.Sprintf("Stopped after %d tool rounds without a final answer.", result.Rounds)
			metrics.RecordQuery(metrics.OutcomeTruncated, result.Rounds)
			logger.Warn("step budget exhausted", slog.Int("max_steps", e.maxSteps))
			return result, nil
		}

		if err := lp.fire(ctx, eventResultsReady); err != nil {
			return result, err
		}
	}
}

// complete sends the conversation to the model.
func (e *Engine) complete(ctx context.Context, conv *Conversation, tools []llm.Tool, round int) (_ *llm.CompletionResponse, err error) {
	ctx, span := e.tracer.Start(ctx, "model.complete", trace.WithAttributes(
		attribute.String("llm.provider", e.provider.Name()),
		attribute.Int("conversation.round", round)))
	defer func() { tracing.EndSpan(span, err) }()

	messages := conv.messages
	if e.systemPrompt != "" {
		messages = append([]llm.Message{{Role: llm.MessageRoleSystem, Content: e.systemPrompt}}, messages...)
	}

	start := time.Now()
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Messages:  messages,
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Tools:     tools,
	})
	metrics.RecordModelRequest(err == nil, time.Since(start).Seconds())
	if err != nil {
		return nil, &ModelInferenceError{Provider: e.provider.Name(), Round: round, Cause: err}
	}
	metrics.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	span.SetAttributes(
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		attribute.String("llm.finish_reason", string(resp.FinishReason)))
	return resp, nil
}

// execute runs one call and returns the tool-result content. Failures of
// any kind are described in the content instead of being returned.
func (e *Engine) execute(ctx context.Context, logger *slog.Logger, call llm.ToolCall) (string, bool) {
	e.observer.ToolCall(call.Name, call.Arguments)

	content, isError := e.dispatch(ctx, call)
	if isError {
		logger.Debug("tool call returned an error result",
			slog.String(log.ToolKey, call.Name),
			slog.String(log.InvocationIDKey, call.ID))
	}
	e.observer.ToolResult(call.Name, content, isError)
	return content, isError
}

func (e *Engine) dispatch(ctx context.Context, call llm.ToolCall) (string, bool) {
	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return formatToolError(call.Name, err), true
	}
	res, err := e.dispatcher.Dispatch(ctx, registry.Invocation{ID: call.ID, Name: call.Name, Arguments: args})
	if err != nil {
		return formatToolError(call.Name, err), true
	}
	return res.Content, res.IsError
}

// formatToolError describes a failed invocation to the model.
func formatToolError(tool string, err error) string {
	return fmt.Sprintf("Error executing %s: %s", tool, err)
}

func decodeArguments(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// withIDs gives every invocation of one response a unique id so every
// result can be keyed. Missing and repeated ids are replaced.
func withIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] {
			c.ID = "call_" + uuid.NewString()
		}
		seen[c.ID] = true
		out[i] = c
	}
	return out
}

func (e *Engine) modelTools() []llm.Tool {
	if e.tools == nil {
		return nil
	}
	defs := e.tools.AllTools()
	tools := make([]llm.Tool, len(defs))
	for i, d := range defs {
		tools[i] = llm.Tool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}
	return tools
}

func addUsage(total *llm.TokenUsage, u llm.TokenUsage) {
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.TotalTokens += u.TotalTokens
	total.CacheCreationTokens += u.CacheCreationTokens
	total.CacheReadTokens += u.CacheReadTokens
}
