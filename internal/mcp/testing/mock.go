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

// Package testing provides an in-memory mcp.Session for tests.
package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/tombee/ensemble/internal/mcp"
)

// MockSession implements mcp.Session without a server process. Capability
// kinds are supported as soon as entries for them are configured, unless
// marked unsupported.
type MockSession struct {
	serverName  string
	tools       []mcp.ToolDefinition
	resources   []mcp.ResourceDefinition
	templates   []mcp.ResourceDefinition
	prompts     []mcp.PromptDefinition
	supported   map[mcp.CapabilityKind]bool
	listErrs    map[mcp.CapabilityKind]error
	callFunc    func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error)
	readFunc    func(ctx context.Context, req mcp.ResourceReadRequest) (*mcp.ResourceReadResponse, error)
	promptFunc  func(ctx context.Context, req mcp.PromptRequest) (*mcp.PromptResult, error)
	pingFunc    func(ctx context.Context) error
	closeErr    error
	calls       []mcp.ToolCallRequest
	reads       []string
	promptCalls []mcp.PromptRequest
	closeCount  int
	mu          sync.RWMutex
}

// NewMockSession creates a mock session that supports nothing yet.
func NewMockSession(serverName string) *MockSession {
	return &MockSession{
		serverName: serverName,
		supported:  make(map[mcp.CapabilityKind]bool),
		listErrs:   make(map[mcp.CapabilityKind]error),
	}
}

// WithTools adds tools and marks the tools capability supported.
func (s *MockSession) WithTools(tools ...mcp.ToolDefinition) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, tools...)
	s.supported[mcp.CapabilityTools] = true
	return s
}

// WithResources adds literal resources and marks resources supported.
func (s *MockSession) WithResources(uris ...string) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uri := range uris {
		s.resources = append(s.resources, mcp.ResourceDefinition{URI: uri, Name: uri})
	}
	s.supported[mcp.CapabilityResources] = true
	return s
}

// WithTemplates adds resource templates and marks resources supported.
func (s *MockSession) WithTemplates(templates ...string) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range templates {
		s.templates = append(s.templates, mcp.ResourceDefinition{URI: t, Name: t, Template: true})
	}
	s.supported[mcp.CapabilityResources] = true
	return s
}

// WithPrompts adds prompts and marks prompts supported.
func (s *MockSession) WithPrompts(prompts ...mcp.PromptDefinition) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompts...)
	s.supported[mcp.CapabilityPrompts] = true
	return s
}

// Supporting marks kinds supported even when they have no entries.
func (s *MockSession) Supporting(kinds ...mcp.CapabilityKind) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		s.supported[k] = true
	}
	return s
}

// FailList makes listing kind fail with err. The kind stays advertised.
func (s *MockSession) FailList(kind mcp.CapabilityKind, err error) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErrs[kind] = err
	s.supported[kind] = true
	return s
}

// SetCallHandler sets a custom call handler.
func (s *MockSession) SetCallHandler(f func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callFunc = f
}

// SetReadHandler sets a custom resource read handler.
func (s *MockSession) SetReadHandler(f func(ctx context.Context, req mcp.ResourceReadRequest) (*mcp.ResourceReadResponse, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readFunc = f
}

// SetPromptHandler sets a custom prompt handler.
func (s *MockSession) SetPromptHandler(f func(ctx context.Context, req mcp.PromptRequest) (*mcp.PromptResult, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptFunc = f
}

// SetPingFunc sets a custom ping function.
func (s *MockSession) SetPingFunc(f func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingFunc = f
}

// SetCloseError makes Close return err.
func (s *MockSession) SetCloseError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
}

func (s *MockSession) list(kind mcp.CapabilityKind) error {
	if !s.supported[kind] {
		return mcp.ErrCapabilityUnsupported(s.serverName, kind)
	}
	if err := s.listErrs[kind]; err != nil {
		return mcp.ErrCapabilityQuery(s.serverName, kind, err)
	}
	return nil
}

// ServerName returns the mock server name.
func (s *MockSession) ServerName() string {
	return s.serverName
}

// Capabilities reports the kinds configured on the mock.
func (s *MockSession) Capabilities() *mcp.ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()

	caps := &mcp.ServerCapabilities{}
	if s.supported[mcp.CapabilityTools] {
		caps.Tools = &mcp.ToolsCapability{}
	}
	if s.supported[mcp.CapabilityResources] {
		caps.Resources = &mcp.ResourcesCapability{}
	}
	if s.supported[mcp.CapabilityPrompts] {
		caps.Prompts = &mcp.PromptsCapability{}
	}
	return caps
}

// ListTools returns a copy of the configured tools.
func (s *MockSession) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.list(mcp.CapabilityTools); err != nil {
		return nil, err
	}
	return append([]mcp.ToolDefinition(nil), s.tools...), nil
}

// ListResources returns a copy of the configured literal resources.
func (s *MockSession) ListResources(ctx context.Context) ([]mcp.ResourceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.list(mcp.CapabilityResources); err != nil {
		return nil, err
	}
	return append([]mcp.ResourceDefinition(nil), s.resources...), nil
}

// ListResourceTemplates returns a copy of the configured templates.
func (s *MockSession) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.list(mcp.CapabilityResources); err != nil {
		return nil, err
	}
	return append([]mcp.ResourceDefinition(nil), s.templates...), nil
}

// ListPrompts returns a copy of the configured prompts.
func (s *MockSession) ListPrompts(ctx context.Context) ([]mcp.PromptDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.list(mcp.CapabilityPrompts); err != nil {
		return nil, err
	}
	return append([]mcp.PromptDefinition(nil), s.prompts...), nil
}

// CallTool records the call and runs the handler, or echoes the tool name.
func (s *MockSession) CallTool(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	callFunc := s.callFunc
	s.mu.Unlock()

	if callFunc != nil {
		return callFunc(ctx, req)
	}

	return &mcp.ToolCallResponse{
		Content: []mcp.ContentItem{
			{
				Type: mcp.ContentTypeText,
				Text: fmt.Sprintf("%s: mock response for %s", s.serverName, req.Name),
			},
		},
	}, nil
}

// ReadResource records the read and runs the handler, or returns the URI as text.
func (s *MockSession) ReadResource(ctx context.Context, req mcp.ResourceReadRequest) (*mcp.ResourceReadResponse, error) {
	s.mu.Lock()
	s.reads = append(s.reads, req.URI)
	readFunc := s.readFunc
	s.mu.Unlock()

	if readFunc != nil {
		return readFunc(ctx, req)
	}
	return &mcp.ResourceReadResponse{
		Contents: []mcp.ResourceContent{
			{Kind: mcp.ResourceKindText, URI: req.URI, Text: fmt.Sprintf("%s served %s", s.serverName, req.URI)},
		},
	}, nil
}

// GetPrompt records the request and runs the handler, or renders a stub.
func (s *MockSession) GetPrompt(ctx context.Context, req mcp.PromptRequest) (*mcp.PromptResult, error) {
	s.mu.Lock()
	s.promptCalls = append(s.promptCalls, req)
	promptFunc := s.promptFunc
	s.mu.Unlock()

	if promptFunc != nil {
		return promptFunc(ctx, req)
	}
	return &mcp.PromptResult{
		Messages: []mcp.PromptMessage{
			{Role: "user", Content: mcp.ContentItem{Type: mcp.ContentTypeText, Text: "prompt " + req.Name}},
		},
	}, nil
}

// Ping returns success unless a custom ping function is configured.
func (s *MockSession) Ping(ctx context.Context) error {
	s.mu.RLock()
	pingFunc := s.pingFunc
	s.mu.RUnlock()

	if pingFunc != nil {
		return pingFunc(ctx)
	}
	return nil
}

// Close counts calls and returns the configured error.
func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return s.closeErr
}

// Calls returns the tool calls received so far.
func (s *MockSession) Calls() []mcp.ToolCallRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]mcp.ToolCallRequest(nil), s.calls...)
}

// Reads returns the URIs read so far.
func (s *MockSession) Reads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.reads...)
}

// PromptRequests returns the prompt requests received so far.
func (s *MockSession) PromptRequests() []mcp.PromptRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]mcp.PromptRequest(nil), s.promptCalls...)
}

// CloseCount returns how many times Close was called.
func (s *MockSession) CloseCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeCount
}

// Connector returns an mcp.Connector that hands out the given sessions by
// server name and fails with an mcp connection error for names in failures
// or names it does not know.
func Connector(sessions []*MockSession, failures map[string]error) mcp.Connector {
	byName := make(map[string]*MockSession, len(sessions))
	for _, s := range sessions {
		byName[s.ServerName()] = s
	}
	return func(ctx context.Context, cfg mcp.ServerConfig) (mcp.Session, error) {
		if err, ok := failures[cfg.Name]; ok {
			return nil, mcp.ErrConnection(cfg.Name, err)
		}
		s, ok := byName[cfg.Name]
		if !ok {
			return nil, mcp.ErrConnection(cfg.Name, fmt.Errorf("no mock session configured"))
		}
		return s, nil
	}
}
