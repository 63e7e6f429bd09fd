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

package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeConnection indicates a server was unreachable or the handshake failed.
	ErrorCodeConnection MCPErrorCode = "CONNECTION_FAILED"
	// ErrorCodeCapabilityQuery indicates listing a capability kind failed.
	ErrorCodeCapabilityQuery MCPErrorCode = "CAPABILITY_QUERY_FAILED"
	// ErrorCodeCapabilityUnsupported indicates the server does not offer a capability kind.
	ErrorCodeCapabilityUnsupported MCPErrorCode = "CAPABILITY_UNSUPPORTED"
	// ErrorCodeInvocation indicates a tool call failed at the transport or protocol level.
	ErrorCodeInvocation MCPErrorCode = "INVOCATION_FAILED"
	// ErrorCodeResource indicates a resource read failed.
	ErrorCodeResource MCPErrorCode = "RESOURCE_READ_FAILED"
	// ErrorCodePrompt indicates a prompt could not be rendered.
	ErrorCodePrompt MCPErrorCode = "PROMPT_FAILED"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig MCPErrorCode = "INVALID_CONFIG"
	// ErrorCodeClosed indicates the session was used after Close.
	ErrorCodeClosed MCPErrorCode = "SESSION_CLOSED"
	// ErrorCodeTimeout indicates a timeout occurred.
	ErrorCodeTimeout MCPErrorCode = "TIMEOUT"
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// Is matches another *MCPError with the same code, so callers can write
// errors.Is(err, &MCPError{Code: ErrorCodeConnection}).
func (e *MCPError) Is(target error) bool {
	t, ok := target.(*MCPError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *MCPError) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *MCPError) UserMessage() string {
	return e.Error()
}

// Suggestion implements pkg/errors.UserVisibleError.
// The first suggestion is returned; Format renders the full list.
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// Format renders the error with every suggestion, for terminal output.
func (e *MCPError) Format() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if e.Detail != "" {
		sb.WriteString("  → ")
		sb.WriteString(e.Detail)
		sb.WriteString("\n")
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Suggestions:\n")
		for _, s := range e.Suggestions {
			sb.WriteString("  - ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	if cause != nil && e.Detail == "" {
		e.Detail = cause.Error()
	}
	return e
}

// ErrConnection creates an error for a server that could not be reached or
// did not complete the initialize handshake.
func ErrConnection(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeConnection, fmt.Sprintf("failed to connect to MCP server '%s'", name)).
		WithCause(cause).
		WithSuggestions(
			"Verify the command and arguments are correct",
			"Ensure required environment variables are set",
			fmt.Sprintf("Check the server on its own: ensemble servers --only %s", name),
		)
}

// ErrCapabilityQuery creates an error for a failed capability listing.
func ErrCapabilityQuery(name string, kind CapabilityKind, cause error) *MCPError {
	return NewMCPError(ErrorCodeCapabilityQuery, fmt.Sprintf("failed to list %s on MCP server '%s'", kind, name)).
		WithCause(cause)
}

// ErrCapabilityUnsupported creates an error for a capability kind the server
// did not advertise during initialization.
func ErrCapabilityUnsupported(name string, kind CapabilityKind) *MCPError {
	return NewMCPError(ErrorCodeCapabilityUnsupported, fmt.Sprintf("MCP server '%s' does not support %s", name, kind))
}

// ErrInvocation creates an error for a tool call that did not produce a result.
func ErrInvocation(server, tool string, cause error) *MCPError {
	return NewMCPError(ErrorCodeInvocation, fmt.Sprintf("tool '%s' on MCP server '%s' failed", tool, server)).
		WithCause(cause)
}

// ErrResourceRead creates an error for a failed resource read.
func ErrResourceRead(server, uri string, cause error) *MCPError {
	return NewMCPError(ErrorCodeResource, fmt.Sprintf("failed to read resource '%s' from MCP server '%s'", uri, server)).
		WithCause(cause)
}

// ErrPrompt creates an error for a prompt the server could not render.
func ErrPrompt(server, prompt string, cause error) *MCPError {
	return NewMCPError(ErrorCodePrompt, fmt.Sprintf("failed to get prompt '%s' from MCP server '%s'", prompt, server)).
		WithCause(cause).
		WithSuggestions("List prompts and their arguments: /prompts")
}

// ErrSessionClosed creates an error for use of a closed session.
func ErrSessionClosed(name string) *MCPError {
	return NewMCPError(ErrorCodeClosed, fmt.Sprintf("session for MCP server '%s' is closed", name))
}

// ErrInvalidServerName creates an error for an invalid server name.
func ErrInvalidServerName(name string) *MCPError {
	return NewMCPError(ErrorCodeConfig, fmt.Sprintf("invalid server name '%s'", name)).
		WithDetail("names must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters").
		WithSuggestions(
			"Use only letters, numbers, hyphens (-), and underscores (_)",
			"Example valid names: research, fetch_server, docs-1",
		)
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(server, detail string) *MCPError {
	return NewMCPError(ErrorCodeConfig, fmt.Sprintf("invalid configuration for MCP server '%s'", server)).
		WithDetail(detail).
		WithSuggestions(
			"Check the mcpServers section of the configuration file",
			"Ensure all required fields for the transport are provided",
		)
}

// ErrTimeout creates an error for a timeout.
func ErrTimeout(server, operation string, cause error) *MCPError {
	return NewMCPError(ErrorCodeTimeout, fmt.Sprintf("%s on MCP server '%s' timed out", operation, server)).
		WithCause(cause).
		WithSuggestions(
			"Check if the server is responding",
			"Increase the server timeout in the configuration",
		)
}

// WrapError wraps a standard error in an MCPError if it isn't one already.
func WrapError(err error, code MCPErrorCode, message string) *MCPError {
	if mcpErr := GetMCPError(err); mcpErr != nil {
		return mcpErr
	}
	return NewMCPError(code, message).WithCause(err)
}

// IsMCPError checks if an error chain contains an MCPError.
func IsMCPError(err error) bool {
	return GetMCPError(err) != nil
}

// GetMCPError extracts an MCPError from an error chain.
func GetMCPError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	return nil
}

// HasCode reports whether err carries an MCPError with the given code.
func HasCode(err error, code MCPErrorCode) bool {
	mcpErr := GetMCPError(err)
	return mcpErr != nil && mcpErr.Code == code
}
