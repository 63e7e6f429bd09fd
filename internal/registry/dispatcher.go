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

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/ensemble/internal/mcp"
	"github.com/tombee/ensemble/internal/metrics"
	"github.com/tombee/ensemble/internal/tracing"
)

// Invocation is one model-issued tool call. It is consumed once.
type Invocation struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolResult is the normalized outcome of an invocation, keyed by the
// invocation it answers.
type ToolResult struct {
	InvocationID string
	ToolName     string
	Server       string

	// Content is the tool output flattened to text.
	Content string

	// IsError is set when the server reported a tool-level failure.
	IsError bool

	Duration time.Duration
}

// Dispatcher routes invocations to the session owning the tool.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher over reg.
func NewDispatcher(reg *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: reg,
		logger:   logger.With(slog.String("component", "dispatcher")),
		tracer:   tracing.Tracer("ensemble/registry"),
	}
}

// Dispatch calls the tool on its owning session. Arguments are forwarded
// as given; the input schema is not checked. An unregistered name fails
// with *UnknownToolError without contacting any session, and a session
// failure is returned as is for the caller to report.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (_ *ToolResult, err error) {
	ctx, span := d.tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(
		attribute.String("tool.name", inv.Name),
		attribute.String("tool.invocation_id", inv.ID),
	))
	defer func() { tracing.EndSpan(span, err) }()

	session, ok := d.registry.FindToolOwner(inv.Name)
	if !ok {
		metrics.RecordToolCall(inv.Name, "", metrics.OutcomeUnknown, 0)
		return nil, &UnknownToolError{Name: inv.Name}
	}
	server := session.ServerName()
	span.SetAttributes(attribute.String("mcp.server", server))
	logger := d.logger.With(
		slog.String("tool", inv.Name),
		slog.String("server", server),
		slog.String("invocation_id", inv.ID))

	args := inv.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	start := time.Now()
	resp, err := session.CallTool(ctx, mcp.ToolCallRequest{Name: inv.Name, Arguments: args})
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordToolCall(inv.Name, server, metrics.OutcomeFailed, elapsed.Seconds())
		logger.Warn("tool invocation failed", slog.Any("error", err))
		return nil, err
	}

	result := &ToolResult{
		InvocationID: inv.ID,
		ToolName:     inv.Name,
		Server:       server,
		Content:      RenderToolContent(resp.Content),
		IsError:      resp.IsError,
		Duration:     elapsed,
	}
	outcome := metrics.OutcomeOK
	if resp.IsError {
		outcome = metrics.OutcomeToolError
	}
	metrics.RecordToolCall(inv.Name, server, outcome, elapsed.Seconds())
	logger.Debug("tool invocation finished",
		slog.Int64("duration_ms", elapsed.Milliseconds()),
		slog.Bool("is_error", resp.IsError))
	return result, nil
}

// RenderToolContent flattens tool output to text, one item per line.
// Media is replaced by a placeholder naming its type and size.
func RenderToolContent(items []mcp.ContentItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case mcp.ContentTypeText:
			parts = append(parts, item.Text)
		case mcp.ContentTypeImage, mcp.ContentTypeAudio:
			parts = append(parts, fmt.Sprintf("[%s content: %s, %d bytes]", item.Type, item.MimeType, decodedSize(item.Data)))
		case mcp.ContentTypeResource:
			if item.Text != "" {
				parts = append(parts, item.Text)
			} else {
				parts = append(parts, fmt.Sprintf("[resource %s: blob of %d bytes]", item.URI, decodedSize(item.Data)))
			}
		default:
			if len(item.Raw) > 0 {
				parts = append(parts, string(item.Raw))
			} else if b, err := json.Marshal(item); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}
