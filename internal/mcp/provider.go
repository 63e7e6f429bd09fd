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

import "context"

// Session is one live connection to a single MCP server.
// *Client implements it; tests use the in-memory mock in mcp/testing.
//
// The three List methods are independently optional: a server that does not
// advertise a capability kind returns an ErrorCodeCapabilityUnsupported error,
// which callers treat as an empty result rather than a failure.
type Session interface {
	// ServerName returns the unique identifier for this server.
	ServerName() string

	// Capabilities returns what the server advertised during initialization.
	Capabilities() *ServerCapabilities

	// ListTools retrieves the tools the server exposes.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// ListResources retrieves the literal resources the server exposes.
	ListResources(ctx context.Context) ([]ResourceDefinition, error)

	// ListResourceTemplates retrieves the templated resources the server exposes.
	ListResourceTemplates(ctx context.Context) ([]ResourceDefinition, error)

	// ListPrompts retrieves the prompt templates the server exposes.
	ListPrompts(ctx context.Context) ([]PromptDefinition, error)

	// CallTool executes a tool. Arguments are forwarded without validation.
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)

	// ReadResource reads the content behind a URI.
	ReadResource(ctx context.Context, req ResourceReadRequest) (*ResourceReadResponse, error)

	// GetPrompt renders a prompt with the given arguments.
	GetPrompt(ctx context.Context, req PromptRequest) (*PromptResult, error)

	// Ping checks if the server is still responsive.
	Ping(ctx context.Context) error

	// Close releases the connection. It is idempotent.
	Close() error
}

// Connector opens a Session. Connect is the production implementation.
type Connector func(ctx context.Context, cfg ServerConfig) (Session, error)

var _ Session = (*Client)(nil)
