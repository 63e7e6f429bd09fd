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

// Package sharedtest provides fake servers and a scripted model for
// command tests.
package sharedtest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/ensemble/internal/app"
	"github.com/tombee/ensemble/internal/commands/shared"
	"github.com/tombee/ensemble/internal/config"
	"github.com/tombee/ensemble/internal/engine"
	"github.com/tombee/ensemble/internal/mcp"
	mcptest "github.com/tombee/ensemble/internal/mcp/testing"
	"github.com/tombee/ensemble/pkg/llm"
)

// Config declares three servers; "broken" never connects.
const Config = `
mcpServers:
  research:
    command: uv
    args: [run, research_server.py]
  weather:
    transport: sse
    url: http://localhost:8001/sse
  broken:
    command: missing-binary
`

// Provider replays canned responses in order.
type Provider struct {
	mu        sync.Mutex
	Responses []*llm.CompletionResponse
	Requests  []llm.CompletionRequest
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "scripted" }

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if len(p.Responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	r := p.Responses[0]
	p.Responses = p.Responses[1:]
	return r, nil
}

// Fixture is a started-on-demand application over mock sessions.
type Fixture struct {
	Research *mcptest.MockSession
	Weather  *mcptest.MockSession
	Provider *Provider

	// App is the last application started.
	App *app.App
}

// New returns a fixture whose research server offers search_papers,
// papers:// resources and one prompt, and whose weather server offers
// forecast.
func New(responses ...*llm.CompletionResponse) *Fixture {
	return &Fixture{
		Research: mcptest.NewMockSession("research").
			WithTools(mcp.ToolDefinition{
				Name:        "search_papers",
				Description: "Search arXiv",
				InputSchema: []byte(`{"type":"object","properties":{"topic":{"type":"string"}}}`),
			}).
			WithResources("papers://folders").
			WithTemplates("papers://{topic}").
			WithPrompts(mcp.PromptDefinition{
				Name:        "generate_search_prompt",
				Description: "Search for papers on a topic",
				Arguments:   []mcp.PromptArgument{{Name: "topic", Required: true}},
			}),
		Weather: mcptest.NewMockSession("weather").
			WithTools(mcp.ToolDefinition{Name: "forecast", InputSchema: []byte(`{"type":"object"}`)}),
		Provider: &Provider{Responses: responses},
	}
}

// Starter returns a shared.Starter that starts the application against
// the fixture.
func (f *Fixture) Starter(t *testing.T) shared.Starter {
	t.Helper()
	cfg, err := config.Parse([]byte(Config))
	require.NoError(t, err)

	conn := mcptest.Connector([]*mcptest.MockSession{f.Research, f.Weather},
		map[string]error{"broken": errors.New("exec: \"missing-binary\": executable file not found")})

	return func(ctx context.Context, withModel bool, observer engine.Observer) (*app.App, error) {
		a, err := app.Start(ctx, app.Options{
			Config:    cfg,
			WithModel: withModel,
			Observer:  observer,
			Connector: conn,
			Provider:  f.Provider,
		})
		if err != nil {
			return nil, err
		}
		f.App = a
		return a, nil
	}
}

// ResetFlags clears the global flags now and when t ends.
func ResetFlags(t *testing.T, verbose, json bool) {
	t.Helper()
	shared.SetFlagsForTest(verbose, json, "")
	t.Cleanup(func() { shared.SetFlagsForTest(false, false, "") })
}
