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
	"encoding/json"
	"fmt"
)

// CapabilityKind names one of the three listable MCP capability families.
type CapabilityKind string

const (
	CapabilityTools     CapabilityKind = "tools"
	CapabilityResources CapabilityKind = "resources"
	CapabilityPrompts   CapabilityKind = "prompts"
)

// CapabilityKinds lists every kind in the order servers are queried.
var CapabilityKinds = []CapabilityKind{CapabilityTools, CapabilityResources, CapabilityPrompts}

// ToolDefinition describes a tool exposed by an MCP server.
// The input schema is passed to the model untouched.
type ToolDefinition struct {
	// Name is the unique identifier for this tool
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallRequest represents a request to execute an MCP tool.
type ToolCallRequest struct {
	// Name is the tool to execute
	Name string `json:"name"`

	// Arguments contains the input parameters for the tool
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCallResponse represents the result of an MCP tool execution.
type ToolCallResponse struct {
	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// IsError indicates the server reported a tool-level failure
	IsError bool `json:"isError,omitempty"`
}

// ContentType tags the shape of a ContentItem.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeResource ContentType = "resource"
	ContentTypeOther    ContentType = "other"
)

// ContentItem is one block of tool output.
type ContentItem struct {
	Type ContentType `json:"type"`

	// Text is set for text items and for embedded text resources
	Text string `json:"text,omitempty"`

	// Data is base64 for image, audio and embedded blob resources
	Data string `json:"data,omitempty"`

	MimeType string `json:"mimeType,omitempty"`

	// URI is set for embedded resources
	URI string `json:"uri,omitempty"`

	// Raw holds the JSON encoding of content this package does not model
	Raw json.RawMessage `json:"raw,omitempty"`
}

// ResourceDefinition describes a resource or resource template exposed by a
// server. For templates URI holds the raw RFC 6570 template.
type ResourceDefinition struct {
	// URI is the unique identifier for this resource
	URI string `json:"uri"`

	// Name is a human-readable name
	Name string `json:"name"`

	// Description explains what this resource contains
	Description string `json:"description,omitempty"`

	// MimeType indicates the content type
	MimeType string `json:"mimeType,omitempty"`

	// Template is true when URI is a template rather than a literal address
	Template bool `json:"template,omitempty"`
}

// ResourceReadRequest represents a request to read an MCP resource.
type ResourceReadRequest struct {
	URI string `json:"uri"`
}

// ResourceReadResponse represents the result of reading an MCP resource.
type ResourceReadResponse struct {
	Contents []ResourceContent `json:"contents"`
}

// ResourceKind tags the shape of a ResourceContent.
type ResourceKind string

const (
	ResourceKindText   ResourceKind = "text"
	ResourceKindBinary ResourceKind = "binary"
	ResourceKindOther  ResourceKind = "other"
)

// ResourceContent represents the content of an MCP resource.
type ResourceContent struct {
	Kind ResourceKind `json:"kind"`

	// URI is the resource identifier
	URI string `json:"uri"`

	// MimeType indicates the content type
	MimeType string `json:"mimeType,omitempty"`

	// Text is the text content (for text resources)
	Text string `json:"text,omitempty"`

	// Blob is the base64-encoded binary content (for binary resources)
	Blob string `json:"blob,omitempty"`

	// Raw holds the JSON encoding of unrecognized content
	Raw json.RawMessage `json:"raw,omitempty"`
}

// PromptArgument is one named parameter of a prompt template.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptDefinition describes a prompt template exposed by a server.
type PromptDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptRequest asks a server to render a prompt. Values are always strings.
type PromptRequest struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one rendered message of a prompt.
type PromptMessage struct {
	Role    string      `json:"role"`
	Content ContentItem `json:"content"`
}

// PromptResult is a rendered prompt.
type PromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// ServerCapabilities describes what features an MCP server supports.
type ServerCapabilities struct {
	// Tools indicates if the server provides tools
	Tools *ToolsCapability `json:"tools,omitempty"`

	// Resources indicates if the server provides resources
	Resources *ResourcesCapability `json:"resources,omitempty"`

	// Prompts indicates if the server provides prompts
	Prompts *PromptsCapability `json:"prompts,omitempty"`
}

// Supports reports whether the server advertised the given capability kind.
// A nil receiver supports nothing.
func (c *ServerCapabilities) Supports(kind CapabilityKind) bool {
	if c == nil {
		return false
	}
	switch kind {
	case CapabilityTools:
		return c.Tools != nil
	case CapabilityResources:
		return c.Resources != nil
	case CapabilityPrompts:
		return c.Prompts != nil
	default:
		return false
	}
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	// ListChanged indicates if the server sends notifications when tools change
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes resource-related capabilities.
type ResourcesCapability struct {
	// Subscribe indicates if clients can subscribe to resource updates
	Subscribe bool `json:"subscribe,omitempty"`

	// ListChanged indicates if the server sends notifications when resources change
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability describes prompt-related capabilities.
type PromptsCapability struct {
	// ListChanged indicates if the server sends notifications when prompts change
	ListChanged bool `json:"listChanged,omitempty"`
}

// ProtocolError represents a JSON-RPC error returned by a server.
type ProtocolError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (code %d, data: %s)", e.Message, e.Code, string(e.Data))
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// JSON-RPC error codes servers commonly return.
const (
	ErrorCodeParse          = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)
