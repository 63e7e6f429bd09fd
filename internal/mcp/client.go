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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ClientName and ClientVersion are reported to servers during initialization.
const (
	ClientName    = "ensemble"
	ClientVersion = "0.1.0"
)

// Client wraps an MCP server connection and implements Session.
type Client struct {
	// serverName is the unique identifier for this MCP server
	serverName string

	// client is the underlying MCP protocol client; nil until the
	// transport has started
	client *client.Client

	// capabilities tracks what features the server supports
	capabilities *ServerCapabilities

	// timeout bounds each request
	timeout time.Duration

	// cancel ends the transport lifetime context (and a stdio subprocess)
	cancel context.CancelFunc

	// stderr holds recent stderr output of a stdio server; nil otherwise
	stderr *StderrTail

	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

// Option customizes Connect.
type Option func(*Client)

// WithLogger sets the logger used for session diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Connect opens a session to the server described by cfg and performs the
// initialize handshake. Any failure is returned as an ErrorCodeConnection
// MCPError and leaves nothing running.
func Connect(ctx context.Context, cfg ServerConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, ErrConnection(cfg.Name, err)
	}

	c := &Client{
		serverName: cfg.Name,
		timeout:    cfg.TimeoutOrDefault(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("server", cfg.Name))

	tr, err := newTransport(cfg)
	if err != nil {
		return nil, ErrConnection(cfg.Name, err)
	}

	// The transport outlives ctx: a stdio subprocess is bound to the context
	// it was started with, so it gets its own, cancelled by Close.
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	mcpClient := client.NewClient(tr)
	if err := mcpClient.Start(lifetime); err != nil {
		cancel()
		return nil, ErrConnection(cfg.Name, fmt.Errorf("failed to start %s transport: %w", cfg.TransportOrDefault(), err))
	}
	c.client = mcpClient

	if r, ok := client.GetStderr(mcpClient); ok {
		c.stderr = NewStderrTail(stderrTailLines)
		go c.stderr.Drain(r, c.logger)
	}

	initCtx, initCancel := context.WithTimeout(ctx, c.timeout)
	defer initCancel()
	if err := c.initialize(initCtx); err != nil {
		_ = c.Close()
		if c.stderr != nil && len(c.stderr.Last(1)) > 0 {
			err = fmt.Errorf("%w (stderr: %s)", err, c.stderr.summary(3))
		}
		return nil, ErrConnection(cfg.Name, err)
	}

	c.logger.Debug("session established",
		slog.String("transport", string(cfg.TransportOrDefault())),
		slog.Bool("tools", c.capabilities.Supports(CapabilityTools)),
		slog.Bool("resources", c.capabilities.Supports(CapabilityResources)),
		slog.Bool("prompts", c.capabilities.Supports(CapabilityPrompts)))

	return c, nil
}

// ConnectSession adapts Connect to the Connector signature.
func ConnectSession(opts ...Option) Connector {
	return func(ctx context.Context, cfg ServerConfig) (Session, error) {
		c, err := Connect(ctx, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newTransport(cfg ServerConfig) (transport.Interface, error) {
	switch cfg.TransportOrDefault() {
	case TransportStdio:
		return transport.NewStdio(cfg.Command, cfg.EnvList(), cfg.Args...), nil
	case TransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		return transport.NewSSE(cfg.URL, opts...)
	case TransportStreamableHTTP:
		opts := []transport.StreamableHTTPCOption{
			transport.WithHTTPTimeout(cfg.TimeoutOrDefault()),
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return transport.NewStreamableHTTP(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Stderr returns up to n of the newest lines the server wrote to stderr.
// Only stdio sessions capture stderr.
func (c *Client) Stderr(n int) []string {
	if c.stderr == nil {
		return nil
	}
	return c.stderr.Last(n)
}

// initialize sends the initialize request to the MCP server.
func (c *Client) initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    ClientName,
				Version: ClientVersion,
			},
		},
	}

	if _, err := c.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}

	serverCaps := c.client.GetServerCapabilities()
	c.capabilities = &ServerCapabilities{}
	if serverCaps.Tools != nil {
		c.capabilities.Tools = &ToolsCapability{
			ListChanged: serverCaps.Tools.ListChanged,
		}
	}
	if serverCaps.Resources != nil {
		c.capabilities.Resources = &ResourcesCapability{
			Subscribe:   serverCaps.Resources.Subscribe,
			ListChanged: serverCaps.Resources.ListChanged,
		}
	}
	if serverCaps.Prompts != nil {
		c.capabilities.Prompts = &PromptsCapability{
			ListChanged: serverCaps.Prompts.ListChanged,
		}
	}

	return nil
}

// begin guards every request: it rejects closed sessions and unsupported
// capability kinds, and applies the per-request timeout.
func (c *Client) begin(ctx context.Context, kind CapabilityKind) (context.Context, context.CancelFunc, error) {
	c.mu.RLock()
	closed := c.closed || c.client == nil
	c.mu.RUnlock()
	if closed {
		return nil, nil, ErrSessionClosed(c.serverName)
	}
	if kind != "" && !c.capabilities.Supports(kind) {
		return nil, nil, ErrCapabilityUnsupported(c.serverName, kind)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, nil
}

// classify maps a transport failure onto the session error taxonomy.
func (c *Client) classify(ctx context.Context, operation string, err error, fallback *MCPError) *MCPError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout(c.serverName, operation, err)
	}
	return fallback
}

// ListTools retrieves the list of available tools from the MCP server.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	ctx, cancel, err := c.begin(ctx, CapabilityTools)
	if err != nil {
		return nil, err
	}
	defer cancel()

	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, ErrCapabilityQuery(c.serverName, CapabilityTools, err)
	}

	tools := make([]ToolDefinition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := toolSchema(tool)
		if err != nil {
			return nil, ErrCapabilityQuery(c.serverName, CapabilityTools, err)
		}
		tools = append(tools, ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return tools, nil
}

// toolSchema prefers the raw schema a server sent and otherwise re-encodes
// the structured one.
func toolSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema, nil
	}

	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
	}
	var fields struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(toolBytes, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode input schema for %s: %w", tool.Name, err)
	}
	if len(fields.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`), nil
	}
	return fields.InputSchema, nil
}

// ListResources retrieves the literal resources exposed by the server.
func (c *Client) ListResources(ctx context.Context) ([]ResourceDefinition, error) {
	ctx, cancel, err := c.begin(ctx, CapabilityResources)
	if err != nil {
		return nil, err
	}
	defer cancel()

	result, err := c.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, ErrCapabilityQuery(c.serverName, CapabilityResources, err)
	}

	resources := make([]ResourceDefinition, len(result.Resources))
	for i, resource := range result.Resources {
		resources[i] = ResourceDefinition{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
			MimeType:    resource.MIMEType,
		}
	}

	return resources, nil
}

// ListResourceTemplates retrieves the templated resources exposed by the server.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]ResourceDefinition, error) {
	ctx, cancel, err := c.begin(ctx, CapabilityResources)
	if err != nil {
		return nil, err
	}
	defer cancel()

	result, err := c.client.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
	if err != nil {
		return nil, ErrCapabilityQuery(c.serverName, CapabilityResources, err)
	}

	templates := make([]ResourceDefinition, 0, len(result.ResourceTemplates))
	for _, tmpl := range result.ResourceTemplates {
		if tmpl.URITemplate == nil || tmpl.URITemplate.Template == nil {
			continue
		}
		templates = append(templates, ResourceDefinition{
			URI:         tmpl.URITemplate.Raw(),
			Name:        tmpl.Name,
			Description: tmpl.Description,
			MimeType:    tmpl.MIMEType,
			Template:    true,
		})
	}

	return templates, nil
}

// ListPrompts retrieves the prompt templates exposed by the server.
func (c *Client) ListPrompts(ctx context.Context) ([]PromptDefinition, error) {
	ctx, cancel, err := c.begin(ctx, CapabilityPrompts)
	if err != nil {
		return nil, err
	}
	defer cancel()

	result, err := c.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, ErrCapabilityQuery(c.serverName, CapabilityPrompts, err)
	}

	prompts := make([]PromptDefinition, len(result.Prompts))
	for i, p := range result.Prompts {
		args := make([]PromptArgument, len(p.Arguments))
		for j, a := range p.Arguments {
			args[j] = PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			}
		}
		prompts[i] = PromptDefinition{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   args,
		}
	}

	return prompts, nil
}

// CallTool executes an MCP tool with the given arguments.
// A result with IsError set is a successful call that reported a tool-level
// failure; only transport and protocol failures are returned as errors.
func (c *Client) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	ctx, cancel, err := c.begin(ctx, "")
	if err != nil {
		return nil, ErrInvocation(c.serverName, req.Name, err)
	}
	defer cancel()

	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	})
	if err != nil {
		return nil, c.classify(ctx, "tool call "+req.Name, err, ErrInvocation(c.serverName, req.Name, err))
	}

	response := &ToolCallResponse{
		IsError: result.IsError,
		Content: make([]ContentItem, len(result.Content)),
	}
	for i, content := range result.Content {
		response.Content[i] = convertContent(content)
	}

	return response, nil
}

// ReadResource reads the content of an MCP resource.
func (c *Client) ReadResource(ctx context.Context, req ResourceReadRequest) (*ResourceReadResponse, error) {
	ctx, cancel, err := c.begin(ctx, CapabilityResources)
	if err != nil {
		return nil, ErrResourceRead(c.serverName, req.URI, err)
	}
	defer cancel()

	result, err := c.client.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: req.URI,
		},
	})
	if err != nil {
		return nil, c.classify(ctx, "read "+req.URI, err, ErrResourceRead(c.serverName, req.URI, err))
	}

	response := &ResourceReadResponse{
		Contents: make([]ResourceContent, len(result.Contents)),
	}
	for i, content := range result.Contents {
		response.Contents[i] = convertResourceContents(content)
	}

	return response, nil
}

// GetPrompt renders a prompt on the server.
func (c *Client) GetPrompt(ctx context.Context, req PromptRequest) (*PromptResult, error) {
	ctx, cancel, err := c.begin(ctx, CapabilityPrompts)
	if err != nil {
		return nil, ErrPrompt(c.serverName, req.Name, err)
	}
	defer cancel()

	result, err := c.client.GetPrompt(ctx, mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	})
	if err != nil {
		return nil, c.classify(ctx, "prompt "+req.Name, err, ErrPrompt(c.serverName, req.Name, err))
	}

	out := &PromptResult{
		Description: result.Description,
		Messages:    make([]PromptMessage, len(result.Messages)),
	}
	for i, msg := range result.Messages {
		out.Messages[i] = PromptMessage{
			Role:    string(msg.Role),
			Content: convertContent(msg.Content),
		}
	}

	return out, nil
}

// convertContent maps the mcp-go content union onto ContentItem.
func convertContent(content mcp.Content) ContentItem {
	if text, ok := mcp.AsTextContent(content); ok {
		return ContentItem{Type: ContentTypeText, Text: text.Text}
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return ContentItem{Type: ContentTypeImage, Data: image.Data, MimeType: image.MIMEType}
	}
	if audio, ok := mcp.AsAudioContent(content); ok {
		return ContentItem{Type: ContentTypeAudio, Data: audio.Data, MimeType: audio.MIMEType}
	}
	if embedded, ok := mcp.AsEmbeddedResource(content); ok {
		rc := convertResourceContents(embedded.Resource)
		return ContentItem{
			Type:     ContentTypeResource,
			URI:      rc.URI,
			MimeType: rc.MimeType,
			Text:     rc.Text,
			Data:     rc.Blob,
			Raw:      rc.Raw,
		}
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return ContentItem{Type: ContentTypeOther, Text: fmt.Sprintf("%v", content)}
	}
	return ContentItem{Type: ContentTypeOther, Raw: raw}
}

func convertResourceContents(content mcp.ResourceContents) ResourceContent {
	if text, ok := mcp.AsTextResourceContents(content); ok {
		return ResourceContent{
			Kind:     ResourceKindText,
			URI:      text.URI,
			MimeType: text.MIMEType,
			Text:     text.Text,
		}
	}
	if blob, ok := mcp.AsBlobResourceContents(content); ok {
		return ResourceContent{
			Kind:     ResourceKindBinary,
			URI:      blob.URI,
			MimeType: blob.MIMEType,
			Blob:     blob.Blob,
		}
	}

	raw, err := json.Marshal(content)
	if err != nil {
		raw = []byte(fmt.Sprintf("%q", fmt.Sprintf("%v", content)))
	}
	return ResourceContent{Kind: ResourceKindOther, Raw: raw}
}

// Capabilities returns the server's capabilities.
func (c *Client) Capabilities() *ServerCapabilities {
	return c.capabilities
}

// ServerName returns the unique identifier for this server.
func (c *Client) ServerName() string {
	return c.serverName
}

// Ping checks if the server is still responsive.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel, err := c.begin(ctx, "")
	if err != nil {
		return err
	}
	defer cancel()

	if err := c.client.Ping(ctx); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrSessionClosed(c.serverName).WithCause(err)
		}
		return c.classify(ctx, "ping", err, NewMCPError(ErrorCodeConnection, fmt.Sprintf("ping to MCP server '%s' failed", c.serverName)).WithCause(err))
	}

	return nil
}

// Close closes the connection and stops a stdio subprocess. It may be called
// any number of times, including on a Client whose Connect never completed.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		mcpClient := c.client
		c.mu.Unlock()

		if mcpClient != nil {
			if err := mcpClient.Close(); err != nil {
				c.closeErr = fmt.Errorf("failed to close MCP client %s: %w", c.serverName, err)
			}
		}
		if c.cancel != nil {
			c.cancel()
		}
	})
	return c.closeErr
}
