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

func TestDispatch_RoutesToOwner(t *testing.T) {
	research := mcptest.NewMockSession("research").WithTools(tool("search_papers"))
	weather := mcptest.NewMockSession("weather").WithTools(tool("forecast"))
	reg := New(Config{})
	reg.Absorb(context.Background(), research)
	reg.Absorb(context.Background(), weather)
	d := NewDispatcher(reg, nil)

	args := map[string]interface{}{"topic": "quantum computing", "max_results": 2}
	res, err := d.Dispatch(context.Background(), Invocation{ID: "toolu_1", Name: "search_papers", Arguments: args})
	require.NoError(t, err)

	assert.Equal(t, "toolu_1", res.InvocationID)
	assert.Equal(t, "research", res.Server)
	assert.Equal(t, "research: mock response for search_papers", res.Content)
	assert.False(t, res.IsError)

	require.Len(t, research.Calls(), 1)
	assert.Equal(t, args, research.Calls()[0].Arguments)
	assert.Empty(t, weather.Calls())
}

func TestDispatch_UnknownToolContactsNoSession(t *testing.T) {
	research := mcptest.NewMockSession("research").WithTools(tool("search_papers"))
	reg := New(Config{})
	reg.Absorb(context.Background(), research)
	d := NewDispatcher(reg, nil)

	_, err := d.Dispatch(context.Background(), Invocation{ID: "1", Name: "launch_rockets"})
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "launch_rockets", unknown.Name)
	assert.Empty(t, research.Calls())
}

func TestDispatch_ToolLevelError(t *testing.T) {
	s := mcptest.NewMockSession("fs").WithTools(tool("read_file"))
	s.SetCallHandler(func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		return &mcp.ToolCallResponse{
			IsError: true,
			Content: []mcp.ContentItem{{Type: mcp.ContentTypeText, Text: "no such file"}},
		}, nil
	})
	reg := New(Config{})
	reg.Absorb(context.Background(), s)

	res, err := NewDispatcher(reg, nil).Dispatch(context.Background(), Invocation{ID: "x", Name: "read_file"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "no such file", res.Content)
}

func TestDispatch_SessionFailure(t *testing.T) {
	s := mcptest.NewMockSession("fs").WithTools(tool("read_file"))
	s.SetCallHandler(func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		return nil, mcp.ErrInvocation("fs", req.Name, errors.New("broken pipe"))
	})
	reg := New(Config{})
	reg.Absorb(context.Background(), s)

	_, err := NewDispatcher(reg, nil).Dispatch(context.Background(), Invocation{ID: "x", Name: "read_file"})
	assert.True(t, mcp.HasCode(err, mcp.ErrorCodeInvocation))
}

func TestDispatch_NilArgumentsSentAsEmptyObject(t *testing.T) {
	s := mcptest.NewMockSession("fs").WithTools(tool("list"))
	reg := New(Config{})
	reg.Absorb(context.Background(), s)

	_, err := NewDispatcher(reg, nil).Dispatch(context.Background(), Invocation{ID: "x", Name: "list"})
	require.NoError(t, err)
	assert.NotNil(t, s.Calls()[0].Arguments)
}

func TestRenderToolContent(t *testing.T) {
	out := RenderToolContent([]mcp.ContentItem{
		{Type: mcp.ContentTypeText, Text: "first"},
		{Type: mcp.ContentTypeImage, MimeType: "image/png", Data: "AAAA"},
		{Type: mcp.ContentTypeResource, URI: "file:///a", Text: "embedded"},
		{Type: mcp.ContentTypeOther, Raw: []byte(`{"k":"v"}`)},
	})
	assert.Equal(t, "first\n[image content: image/png, 3 bytes]\nembedded\n{\"k\":\"v\"}", out)
}
