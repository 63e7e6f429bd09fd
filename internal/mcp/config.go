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
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds each request to a server when the configuration
// does not set one.
const DefaultTimeout = 30 * time.Second

// ServerNameRegex validates server names.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TransportKind selects how a session reaches its server.
type TransportKind string

const (
	// TransportStdio spawns the server as a subprocess and speaks over its pipes.
	TransportStdio TransportKind = "stdio"
	// TransportSSE connects to an HTTP server-sent-events endpoint.
	TransportSSE TransportKind = "sse"
	// TransportStreamableHTTP connects to a streamable HTTP endpoint.
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// ServerConfig defines how to reach one MCP server. It is handed to Connect
// unchanged from the configuration file.
type ServerConfig struct {
	// Name is the unique identifier for this server
	Name string

	// Transport defaults to stdio
	Transport TransportKind

	// Command is the executable to run (stdio)
	Command string

	// Args are the command-line arguments (stdio)
	Args []string

	// Env are extra environment variables for the subprocess (stdio)
	Env map[string]string

	// URL is the endpoint (sse, streamable-http)
	URL string

	// Headers are sent with every HTTP request (sse, streamable-http)
	Headers map[string]string

	// Timeout bounds each request to the server (defaults to 30s)
	Timeout time.Duration
}

// TransportOrDefault returns the configured transport, defaulting to stdio.
func (c ServerConfig) TransportOrDefault() TransportKind {
	if c.Transport == "" {
		return TransportStdio
	}
	return c.Transport
}

// TimeoutOrDefault returns the configured timeout, defaulting to DefaultTimeout.
func (c ServerConfig) TimeoutOrDefault() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (c ServerConfig) EnvList() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// Validate checks the configuration without touching the network or PATH.
func (c ServerConfig) Validate() error {
	if err := ValidateServerName(c.Name); err != nil {
		return err
	}

	switch c.TransportOrDefault() {
	case TransportStdio:
		if err := ValidateCommand(c.Command); err != nil {
			return ErrInvalidConfig(c.Name, err.Error())
		}
		for _, arg := range c.Args {
			if err := ValidateArg(arg); err != nil {
				return ErrInvalidConfig(c.Name, err.Error())
			}
		}
		for _, env := range c.EnvList() {
			if err := ValidateEnv(env); err != nil {
				return ErrInvalidConfig(c.Name, err.Error())
			}
		}
		if c.URL != "" {
			return ErrInvalidConfig(c.Name, "url is not used by the stdio transport")
		}
	case TransportSSE, TransportStreamableHTTP:
		if c.URL == "" {
			return ErrInvalidConfig(c.Name, fmt.Sprintf("url is required for the %s transport", c.Transport))
		}
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidConfig(c.Name, fmt.Sprintf("url %q must be an absolute http(s) URL", c.URL))
		}
		if c.Command != "" {
			return ErrInvalidConfig(c.Name, fmt.Sprintf("command is not used by the %s transport", c.Transport))
		}
	default:
		return ErrInvalidConfig(c.Name, fmt.Sprintf("unknown transport %q (want stdio, sse or streamable-http)", c.Transport))
	}

	return nil
}

// ValidateServerName validates a server name.
func ValidateServerName(name string) error {
	if !ServerNameRegex.MatchString(name) {
		return ErrInvalidServerName(name)
	}
	return nil
}

// shellInjectionPatterns are patterns that could indicate shell injection attempts.
var shellInjectionPatterns = []string{
	";", "&&", "||", "|", "`", "$(", "${", "\n", "\r",
}

// ValidateCommand rejects empty commands and commands carrying shell syntax.
// Whether the command exists is left to Connect.
func ValidateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("command is required for the stdio transport")
	}
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(cmd, pattern) {
			return fmt.Errorf("command contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

// ValidateArg validates a command argument for shell injection.
func ValidateArg(arg string) error {
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(arg, pattern) {
			return fmt.Errorf("argument contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

// ValidateEnv validates a KEY=VALUE environment entry.
func ValidateEnv(env string) error {
	key, value, ok := strings.Cut(env, "=")
	if !ok {
		return fmt.Errorf("environment variable must be in KEY=VALUE format")
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %q", key)
	}

	for _, pattern := range shellInjectionPatterns {
		// ${VAR} is expanded by the config loader, not a shell
		if pattern == "${" {
			continue
		}
		if strings.Contains(value, pattern) {
			return fmt.Errorf("environment value for %s contains potentially unsafe pattern %q", key, pattern)
		}
	}
	return nil
}

var sensitiveKeyPatterns = []string{
	"KEY", "TOKEN", "SECRET", "PASSWORD", "CREDENTIAL", "AUTH",
}

// IsSensitiveEnvKey reports whether an environment key likely holds a secret.
func IsSensitiveEnvKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, p := range sensitiveKeyPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}

// RedactEnv masks the values of sensitive KEY=VALUE entries for logging.
func RedactEnv(envs []string) []string {
	result := make([]string, len(envs))
	for i, env := range envs {
		key, _, ok := strings.Cut(env, "=")
		if ok && IsSensitiveEnvKey(key) {
			result[i] = key + "=***REDACTED***"
		} else {
			result[i] = env
		}
	}
	return result
}

// RedactHeaders masks sensitive header values for logging.
func RedactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitiveEnvKey(k) {
			out[k] = "***REDACTED***"
		} else {
			out[k] = v
		}
	}
	return out
}
