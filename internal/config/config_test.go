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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/ensemble/internal/mcp"
	ensembleerrors "github.com/tombee/ensemble/pkg/errors"
)

// serverConfigJSON mirrors a typical server_config.json.
const serverConfigJSON = `{
  "mcpServers": {
    "filesystem": {
      "command": "npx",
      "args": ["-y", "@modelcontextprotocol/server-filesystem", "."]
    },
    "research": {
      "command": "uv",
      "args": ["run", "research_server.py"]
    },
    "fetch": {
      "command": "uvx",
      "args": ["mcp-server-fetch"]
    }
  }
}`

func serverNames(servers []Server) []string {
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}
	return names
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultModel, cfg.Model.Name)
	assert.Equal(t, 2024, cfg.Model.MaxTokens)
	assert.Equal(t, 25, cfg.Engine.MaxSteps)
	assert.Equal(t, "papers", cfg.ResourceScheme)
	assert.NoError(t, cfg.Validate())
}

func TestParse_ServerConfigJSON(t *testing.T) {
	cfg, err := Parse([]byte(serverConfigJSON))
	require.NoError(t, err)

	// document order, not alphabetical
	assert.Equal(t, []string{"filesystem", "research", "fetch"}, serverNames(cfg.Servers))

	research := cfg.Servers[1]
	assert.Equal(t, "uv", research.Command)
	assert.Equal(t, []string{"run", "research_server.py"}, research.Args)
	assert.Equal(t, mcp.TransportStdio, research.TransportOrDefault())
	assert.Equal(t, mcp.DefaultTimeout, research.Timeout)

	assert.Equal(t, DefaultModel, cfg.Model.Name)
}

func TestParse_YAML(t *testing.T) {
	t.Setenv("RESEARCH_TOKEN", "s3cret")

	doc := `
servers:
  weather:
    transport: sse
    url: http://localhost:8001/sse
    headers:
      Authorization: Bearer ${RESEARCH_TOKEN}
    timeout: 5s
  docs:
    transport: streamable-http
    url: https://docs.example.com/mcp
    disabled: true
  local:
    command: python
    args: [server.py]
    env:
      DATA_DIR: /tmp/data
model:
  name: claude-test
  max_tokens: 512
  requests_per_second: 2
engine:
  max_steps: 5
  system_prompt: You are terse.
resource_scheme: notes
log:
  level: debug
  format: json
metrics:
  addr: 127.0.0.1:9090
tracing:
  enabled: true
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"weather", "docs", "local"}, serverNames(cfg.Servers))
	weather := cfg.Servers[0]
	assert.Equal(t, mcp.TransportSSE, weather.Transport)
	assert.Equal(t, "Bearer s3cret", weather.Headers["Authorization"])
	assert.Equal(t, 5*time.Second, weather.Timeout)
	assert.True(t, cfg.Servers[1].Disabled)
	assert.Equal(t, map[string]string{"DATA_DIR": "/tmp/data"}, cfg.Servers[2].Env)

	enabled := cfg.EnabledServers()
	require.Len(t, enabled, 2)
	assert.Equal(t, "weather", enabled[0].Name)
	assert.Equal(t, "local", enabled[1].Name)

	assert.Equal(t, "claude-test", cfg.Model.Name)
	assert.Equal(t, 512, cfg.Model.MaxTokens)
	assert.Equal(t, 2.0, cfg.Model.RequestsPerSecond)
	assert.Equal(t, 5, cfg.Engine.MaxSteps)
	assert.Equal(t, "You are terse.", cfg.Engine.SystemPrompt)
	assert.Equal(t, "notes", cfg.ResourceScheme)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
	assert.Equal(t, DefaultModel, cfg.Model.Name)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "both server keys",
			doc:     "mcpServers: {a: {command: x}}\nservers: {b: {command: y}}",
			wantErr: "use one",
		},
		{
			name:    "unknown top-level field",
			doc:     "modle: {name: x}",
			wantErr: "modle",
		},
		{
			name:    "unknown transport",
			doc:     "mcpServers: {a: {transport: websocket, url: 'ws://x'}}",
			wantErr: "transport",
		},
		{
			name:    "max_tokens below minimum",
			doc:     "model: {max_tokens: -1}",
			wantErr: "model.max_tokens",
		},
		{
			name:    "args must be strings",
			doc:     "mcpServers: {a: {command: x, args: [{k: v}]}}",
			wantErr: "mcpServers.a.args",
		},
		{
			name:    "bad timeout",
			doc:     "mcpServers: {a: {command: x, timeout: soon}}",
			wantErr: "not a positive duration",
		},
		{
			name:    "missing command",
			doc:     "mcpServers: {a: {args: [x]}}",
			wantErr: "command is required",
		},
		{
			name:    "shell syntax in command",
			doc:     "mcpServers: {a: {command: 'rm -rf / && echo'}}",
			wantErr: "unsafe pattern",
		},
		{
			name:    "sse without url",
			doc:     "mcpServers: {a: {transport: sse}}",
			wantErr: "url is required",
		},
		{
			name:    "invalid server name",
			doc:     "mcpServers: {'1bad': {command: x}}",
			wantErr: "invalid server name",
		},
		{
			name:    "not a mapping",
			doc:     "- a\n- b",
			wantErr: "must be a mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_SchemaErrorsAreInvalidConfig(t *testing.T) {
	_, err := Parse([]byte("log: {level: loud}"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_FileWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(serverConfigJSON), 0o600))

	t.Setenv("ENSEMBLE_MODEL", "claude-override")
	t.Setenv("ENSEMBLE_MAX_STEPS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "claude-override", cfg.Model.Name)
	assert.Equal(t, 7, cfg.Engine.MaxSteps)
	assert.Len(t, cfg.Servers, 3)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	var cfgErr *ensembleerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config_file", cfgErr.Key)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mcpServers: {a: {transport: sse}}"), 0o600))
	_, err = Load(bad)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "validation", cfgErr.Key)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaultPath(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("XDG_CONFIG_DIRS", filepath.Join(home, "none"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	t.Chdir(work)

	_, err := DefaultPath()
	assert.True(t, errors.Is(err, ErrNoConfig))

	_, err = Load("")
	var cfgErr *ensembleerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrNoConfig)

	// the legacy file in the working directory is used next
	require.NoError(t, os.WriteFile(LegacyConfigFile, []byte(serverConfigJSON), 0o600))
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, LegacyConfigFile, path)

	// and the XDG file wins over it
	xdgPath, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "ensemble", "config.yaml"), xdgPath)
	require.NoError(t, os.WriteFile(xdgPath, []byte("mcpServers: {}"), 0o600))

	path, err = DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, xdgPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "provider", mutate: func(c *Config) { c.Model.Provider = "openai" }, wantErr: "model.provider"},
		{name: "max steps", mutate: func(c *Config) { c.Engine.MaxSteps = 0 }, wantErr: "engine.max_steps"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "rate", mutate: func(c *Config) { c.Model.RequestsPerSecond = -1 }, wantErr: "requests_per_second"},
		{
			name: "duplicate server",
			mutate: func(c *Config) {
				s := Server{ServerConfig: mcp.ServerConfig{Name: "a", Command: "x"}}
				c.Servers = []Server{s, s}
			},
			wantErr: "more than once",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDocument_Numbers(t *testing.T) {
	tests := []struct {
		name    string
		doc     map[string]interface{}
		wantErr string
	}{
		{
			name: "integer and fractional values",
			doc: map[string]interface{}{
				"model":  map[string]interface{}{"max_tokens": 4096, "requests_per_second": 0.5},
				"engine": map[string]interface{}{"max_steps": 10},
			},
		},
		{
			name:    "fraction where an integer is required",
			doc:     map[string]interface{}{"model": map[string]interface{}{"max_tokens": 1.5}},
			wantErr: "model.max_tokens",
		},
		{
			name:    "negative rate",
			doc:     map[string]interface{}{"model": map[string]interface{}{"requests_per_second": -1}},
			wantErr: "model.requests_per_second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDocument(tt.doc)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
