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
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_InvalidConfig(t *testing.T) {
	_, err := Connect(context.Background(), ServerConfig{Name: "research"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrorCodeConnection))
	assert.Contains(t, err.Error(), "command is required")
}

func TestConnect_MissingCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, ServerConfig{Name: "ghost", Command: "ensemble-test-no-such-binary"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrorCodeConnection))
}

func TestClient_CloseUnconnected(t *testing.T) {
	var nilClient *Client
	assert.NoError(t, nilClient.Close())

	c := &Client{serverName: "never"}
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestClient_UseAfterClose(t *testing.T) {
	c := &Client{serverName: "research", timeout: time.Second, capabilities: &ServerCapabilities{Tools: &ToolsCapability{}}}
	require.NoError(t, c.Close())

	_, err := c.ListTools(context.Background())
	assert.True(t, HasCode(err, ErrorCodeClosed))

	_, err = c.CallTool(context.Background(), ToolCallRequest{Name: "search_papers"})
	assert.True(t, HasCode(err, ErrorCodeInvocation))
}

func TestServerCapabilities_Supports(t *testing.T) {
	var none *ServerCapabilities
	assert.False(t, none.Supports(CapabilityTools))

	caps := &ServerCapabilities{Tools: &ToolsCapability{}, Prompts: &PromptsCapability{}}
	assert.True(t, caps.Supports(CapabilityTools))
	assert.False(t, caps.Supports(CapabilityResources))
	assert.True(t, caps.Supports(CapabilityPrompts))
	assert.False(t, caps.Supports("sampling"))
}

func TestToolSchema(t *testing.T) {
	raw := mcp.NewToolWithRawSchema("search_papers", "Search arXiv", json.RawMessage(`{"type":"object","required":["topic"]}`))
	schema, err := toolSchema(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","required":["topic"]}`, string(schema))

	structured := mcp.NewTool("extract_info", mcp.WithString("paper_id"))
	schema, err = toolSchema(structured)
	require.NoError(t, err)
	assert.Contains(t, string(schema), "paper_id")
}

func TestConvertContent(t *testing.T) {
	tests := []struct {
		name    string
		content mcp.Content
		want    ContentItem
	}{
		{
			name:    "text",
			content: mcp.NewTextContent("hello"),
			want:    ContentItem{Type: ContentTypeText, Text: "hello"},
		},
		{
			name:    "image",
			content: mcp.NewImageContent("aGk=", "image/png"),
			want:    ContentItem{Type: ContentTypeImage, Data: "aGk=", MimeType: "image/png"},
		},
		{
			name:    "audio",
			content: mcp.NewAudioContent("aGk=", "audio/wav"),
			want:    ContentItem{Type: ContentTypeAudio, Data: "aGk=", MimeType: "audio/wav"},
		},
		{
			name: "embedded text resource",
			content: mcp.NewEmbeddedResource(mcp.TextResourceContents{
				URI: "papers://folders", MIMEType: "text/markdown", Text: "# Folders",
			}),
			want: ContentItem{Type: ContentTypeResource, URI: "papers://folders", MimeType: "text/markdown", Text: "# Folders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, convertContent(tt.content))
		})
	}
}

func TestConvertResourceContents(t *testing.T) {
	text := convertResourceContents(mcp.TextResourceContents{URI: "papers://ai", Text: "body"})
	assert.Equal(t, ResourceKindText, text.Kind)
	assert.Equal(t, "body", text.Text)

	blob := convertResourceContents(mcp.BlobResourceContents{URI: "papers://ai.pdf", MIMEType: "application/pdf", Blob: "AAEC"})
	assert.Equal(t, ResourceKindBinary, blob.Kind)
	assert.Equal(t, "AAEC", blob.Blob)
}
