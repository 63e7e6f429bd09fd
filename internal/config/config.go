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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/ensemble/internal/mcp"
	ensembleerrors "github.com/tombee/ensemble/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// ProviderAnthropic is the only supported model provider.
const ProviderAnthropic = "anthropic"

// Defaults.
const (
	DefaultModel          = "claude-3-7-sonnet-20250219"
	DefaultMaxTokens      = 2024
	DefaultMaxSteps       = 25
	DefaultMaxRetries     = 3
	DefaultResourceScheme = "papers"
)

// Server map keys. The first matches the server_config.json layout.
const (
	serversKey      = "mcpServers"
	serversAliasKey = "servers"
)

// Config represents the complete ensemble configuration.
type Config struct {
	// Servers are in document order, which is also connection and
	// registration order.
	Servers []Server `yaml:"-"`

	Model  ModelConfig  `yaml:"model"`
	Engine EngineConfig `yaml:"engine"`

	// ResourceScheme expands "@name" to "<scheme>://name" in the chat.
	ResourceScheme string `yaml:"resource_scheme"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// Server is one configured MCP server.
type Server struct {
	mcp.ServerConfig

	// Disabled servers are kept in the configuration but never connected.
	Disabled bool
}

// ModelConfig configures model inference.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	MaxTokens int    `yaml:"max_tokens"`
	BaseURL   string `yaml:"base_url,omitempty"`

	// APIKey is consulted after ANTHROPIC_API_KEY and before the keychain.
	APIKey string `yaml:"api_key,omitempty"`

	// RequestsPerSecond limits model requests; zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	MaxRetries        int     `yaml:"max_retries"`
}

// EngineConfig configures the conversation engine.
type EngineConfig struct {
	MaxSteps     int    `yaml:"max_steps"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Output is a file path for exported spans; empty means stderr.
	Output string `yaml:"output,omitempty"`
}

// serverEntry is the on-disk form of one server.
type serverEntry struct {
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   string            `yaml:"timeout"`
	Disabled  bool              `yaml:"disabled"`
}

// Default returns a configuration with every default applied and no servers.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:   ProviderAnthropic,
			Name:       DefaultModel,
			MaxTokens:  DefaultMaxTokens,
			MaxRetries: DefaultMaxRetries,
		},
		Engine: EngineConfig{
			MaxSteps: DefaultMaxSteps,
		},
		ResourceScheme: DefaultResourceScheme,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads the configuration file at configPath, or the file located by
// DefaultPath when configPath is empty. Environment variables take
// precedence over file values.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		path, err := DefaultPath()
		if err != nil {
			return nil, &ensembleerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("looked for %s and ./%s", filepath.Join(ConfigDir(), "config.yaml"), LegacyConfigFile),
				Cause:  err,
			}
		}
		configPath = path
	}

	cfg := Default()
	if err := cfg.loadFromFile(configPath); err != nil {
		return nil, &ensembleerrors.ConfigError{
			Key:    "config_file",
			Reason: fmt.Sprintf("failed to load from %s", configPath),
			Cause:  err,
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &ensembleerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnabledServers returns the servers to connect, in configuration order.
func (c *Config) EnabledServers() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		if !s.Disabled {
			out = append(out, s.ServerConfig)
		}
	}
	return out
}

// applyDefaults fills in zero values left by a partial document.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Model.Provider == "" {
		c.Model.Provider = defaults.Model.Provider
	}
	if c.Model.Name == "" {
		c.Model.Name = defaults.Model.Name
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = defaults.Model.MaxTokens
	}
	if c.Engine.MaxSteps == 0 {
		c.Engine.MaxSteps = defaults.Engine.MaxSteps
	}
	if c.ResourceScheme == "" {
		c.ResourceScheme = defaults.ResourceScheme
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	for i := range c.Servers {
		if c.Servers[i].Timeout == 0 {
			c.Servers[i].Timeout = mcp.DefaultTimeout
		}
	}
}

// loadFromFile loads configuration from a YAML or JSON file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := c.decode(data); err != nil {
		return err
	}
	c.Path = path
	return nil
}

// decode validates the document against the schema, then decodes it. The
// server map is walked as a yaml.Node so its key order survives.
func (c *Config) decode(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		// empty file
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config must be a mapping, got %s", nodeKind(root))
	}

	var raw interface{}
	if err := root.Decode(&raw); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateDocument(raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := root.Decode(c); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	servers, err := serversNode(root)
	if err != nil {
		return err
	}
	if servers == nil {
		return nil
	}
	for i := 0; i+1 < len(servers.Content); i += 2 {
		name := servers.Content[i].Value
		var entry serverEntry
		if err := servers.Content[i+1].Decode(&entry); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
		s, err := entry.toServer(name)
		if err != nil {
			return err
		}
		c.Servers = append(c.Servers, s)
	}
	return nil
}

// serversNode returns the value node of the server map, if any.
func serversNode(root *yaml.Node) (*yaml.Node, error) {
	var found *yaml.Node
	var foundKey string
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if key != serversKey && key != serversAliasKey {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: both %q and %q are set; use one", ErrInvalidConfig, foundKey, key)
		}
		found, foundKey = root.Content[i+1], key
	}
	if found != nil && found.Kind != yaml.MappingNode {
		if found.Tag == "!!null" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s must be a mapping of server name to server", ErrInvalidConfig, foundKey)
	}
	return found, nil
}

func (e serverEntry) toServer(name string) (Server, error) {
	s := Server{
		ServerConfig: mcp.ServerConfig{
			Name:      name,
			Transport: mcp.TransportKind(e.Transport),
			Command:   e.Command,
			Args:      e.Args,
			Env:       expandValues(e.Env),
			URL:       os.ExpandEnv(e.URL),
			Headers:   expandValues(e.Headers),
		},
		Disabled: e.Disabled,
	}
	if e.Timeout != "" {
		d, err := time.ParseDuration(e.Timeout)
		if err != nil || d <= 0 {
			return s, fmt.Errorf("%w: server %q: timeout %q is not a positive duration", ErrInvalidConfig, name, e.Timeout)
		}
		s.Timeout = d
	}
	return s, nil
}

// expandValues substitutes ${VAR} references from the environment.
func expandValues(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	default:
		return "an unsupported node"
	}
}

// loadFromEnv applies environment overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("ENSEMBLE_MODEL"); val != "" {
		c.Model.Name = val
	}
	if val := os.Getenv("ENSEMBLE_MAX_STEPS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.MaxSteps = n
		}
	}
	if val := os.Getenv("ENSEMBLE_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	if val := os.Getenv("ANTHROPIC_BASE_URL"); val != "" {
		c.Model.BaseURL = val
	}
}
