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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/ensemble/internal/mcp"
	mcptest "github.com/tombee/ensemble/internal/mcp/testing"
)

func tool(name string) mcp.ToolDefinition {
	return mcp.ToolDefinition{Name: name, Description: name + " tool"}
}

func toolNames(tools []mcp.ToolDefinition) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func TestAbsorb_AllKinds(t *testing.T) {
	reg := New(Config{})
	research := mcptest.NewMockSession("research").
		WithTools(tool("search_papers"), tool("extract_info")).
		WithResources("papers://folders").
		WithTemplates("papers://{topic}").
		WithPrompts(mcp.PromptDefinition{Name: "generate_search_prompt"})

	summary := reg.Absorb(context.Background(), research)

	assert.Equal(t, "research", summary.Server)
	assert.Equal(t, KindSummary{Kind: mcp.CapabilityTools, State: KindSupported, Count: 2}, summary.Kind(mcp.CapabilityTools))
	assert.Equal(t, 2, summary.Kind(mcp.CapabilityResources).Count)
	assert.Equal(t, 1, summary.Kind(mcp.CapabilityPrompts).Count)
	assert.Equal(t, "research: tools=2 resources=2 prompts=1", summary.String())

	assert.Equal(t, []string{"search_papers", "extract_info"}, toolNames(reg.AllTools()))
	assert.Equal(t, []string{"papers://folders", "papers://{topic}"}, reg.ResourceURIs())

	owner, ok := reg.FindToolOwner("search_papers")
	require.True(t, ok)
	assert.Equal(t, "research", owner.ServerName())

	info, ok := reg.FindPromptInfo("generate_search_prompt")
	require.True(t, ok)
	assert.Equal(t, "research", info.Session.ServerName())
}

func TestAbsorb_KindsAreIndependent(t *testing.T) {
	tests := []struct {
		name    string
		session *mcptest.MockSession
		want    map[mcp.CapabilityKind]KindState
	}{
		{
			name:    "tools only",
			session: mcptest.NewMockSession("fetch").WithTools(tool("fetch")),
			want: map[mcp.CapabilityKind]KindState{
				mcp.CapabilityTools:     KindSupported,
				mcp.CapabilityResources: KindUnsupported,
				mcp.CapabilityPrompts:   KindUnsupported,
			},
		},
		{
			name: "tool listing fails, prompts still absorbed",
			session: mcptest.NewMockSession("flaky").
				FailList(mcp.CapabilityTools, errors.New("boom")).
				WithPrompts(mcp.PromptDefinition{Name: "p"}),
			want: map[mcp.CapabilityKind]KindState{
				mcp.CapabilityTools:     KindFailed,
				mcp.CapabilityResources: KindUnsupported,
				mcp.CapabilityPrompts:   KindSupported,
			},
		},
		{
			name:    "supported with zero entries",
			session: mcptest.NewMockSession("empty").Supporting(mcp.CapabilityTools),
			want: map[mcp.CapabilityKind]KindState{
				mcp.CapabilityTools:     KindSupported,
				mcp.CapabilityResources: KindUnsupported,
				mcp.CapabilityPrompts:   KindUnsupported,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(Config{})
			summary := reg.Absorb(context.Background(), tt.session)
			for kind, state := range tt.want {
				ks := summary.Kind(kind)
				assert.Equal(t, state, ks.State, "kind %s", kind)
				if state == KindFailed {
					assert.Error(t, ks.Err)
					assert.Zero(t, ks.Count)
				}
			}
			assert.Len(t, reg.Summaries(), 1)
		})
	}
}

func TestAbsorb_FailingTemplatesKeepLiteralResources(t *testing.T) {
	reg := New(Config{})
	s := &templateFailure{MockSession: mcptest.NewMockSession("docs").WithResources("docs://index")}

	summary := reg.Absorb(context.Background(), s)

	assert.Equal(t, KindSupported, summary.Kind(mcp.CapabilityResources).State)
	assert.Equal(t, []string{"docs://index"}, reg.ResourceURIs())
}

type templateFailure struct {
	*mcptest.MockSession
}

func (s *templateFailure) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceDefinition, error) {
	return nil, mcp.ErrCapabilityQuery(s.ServerName(), mcp.CapabilityResources, errors.New("templates broken"))
}

func TestAbsorb_LastWriteWins(t *testing.T) {
	reg := New(Config{})
	first := mcptest.NewMockSession("first").
		WithTools(tool("search"), tool("only_first")).
		WithResources("notes://all").
		WithPrompts(mcp.PromptDefinition{Name: "summarize"})
	second := mcptest.NewMockSession("second").
		WithTools(tool("search")).
		WithResources("notes://all").
		WithPrompts(mcp.PromptDefinition{Name: "summarize"})

	reg.Absorb(context.Background(), first)
	reg.Absorb(context.Background(), second)

	owner, ok := reg.FindToolOwner("search")
	require.True(t, ok)
	assert.Equal(t, "second", owner.ServerName())
	assert.Equal(t, []string{"search", "only_first"}, toolNames(reg.AllTools()))

	p, ok := reg.FindPromptInfo("summarize")
	require.True(t, ok)
	assert.Equal(t, "second", p.Session.ServerName())
	require.Len(t, reg.Prompts(), 1)

	require.Len(t, reg.Resources(), 1)
	assert.Equal(t, "second", reg.Resources()[0].Session.ServerName())

	assert.Equal(t, []Shadow{
		{Kind: mcp.CapabilityTools, Name: "search", Previous: "first", Current: "second"},
		{Kind: mcp.CapabilityResources, Name: "notes://all", Previous: "first", Current: "second"},
		{Kind: mcp.CapabilityPrompts, Name: "summarize", Previous: "first", Current: "second"},
	}, reg.Shadowed())
	assert.Equal(t, `tool "search" from first shadowed by second`, reg.Shadowed()[0].String())
}

func TestRegistry_UnionOfConnectedServers(t *testing.T) {
	ctx := context.Background()
	sessions := []*mcptest.MockSession{
		mcptest.NewMockSession("a").WithTools(tool("a1")),
		mcptest.NewMockSession("b").WithTools(tool("b1"), tool("b2")),
	}
	mgr := mcp.NewManager(mcp.ManagerConfig{
		Connector: mcptest.Connector(sessions, map[string]error{"down": errors.New("refused")}),
	})
	mgr.ConnectAll(ctx, []mcp.ServerConfig{
		{Name: "a", Command: "a"},
		{Name: "down", Command: "down"},
		{Name: "b", Command: "b"},
	})

	reg := New(Config{})
	for _, s := range mgr.Sessions() {
		reg.Absorb(ctx, s)
	}

	assert.Equal(t, []string{"a1", "b1", "b2"}, toolNames(reg.AllTools()))
	assert.Len(t, reg.Summaries(), 2)
	_, ok := reg.FindToolOwner("down")
	assert.False(t, ok)
}

func TestErrorsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, &UnknownToolError{Name: "x"}, ErrUnknownTool)
	assert.ErrorIs(t, &ResourceNotFoundError{URI: "x"}, ErrResourceNotFound)
	assert.ErrorIs(t, &PromptNotFoundError{Name: "x"}, ErrPromptNotFound)
	assert.NotErrorIs(t, &UnknownToolError{Name: "x"}, ErrPromptNotFound)

	assert.Equal(t, "resource not found: weather://today (known resources: papers://folders)",
		(&ResourceNotFoundError{URI: "weather://today", Known: []string{"papers://folders"}}).Error())
	assert.Contains(t, (&ResourceNotFoundError{URI: "x://y"}).Error(), "no resources are registered")
}
