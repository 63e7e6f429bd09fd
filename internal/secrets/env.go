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

package secrets

import (
	"context"
	"fmt"
	"os"
)

const (
	// EnvBackendPriority is the highest priority so the environment
	// always overrides stored keys.
	EnvBackendPriority = 100

	// ConfigBackendPriority sits between the environment and the keychain.
	ConfigBackendPriority = 75
)

// APIKeyName is the secret key of the model API key.
const APIKeyName = "anthropic-api-key"

// envNames maps secret keys to the environment variables that hold them.
var envNames = map[string]string{
	APIKeyName: "ANTHROPIC_API_KEY",
}

// EnvBackend reads secrets from well-known environment variables.
type EnvBackend struct {
	lookup func(string) string
}

// NewEnvBackend creates a new environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{lookup: os.Getenv}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string {
	return "env"
}

// Get retrieves a secret from its environment variable.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	name, ok := envNames[key]
	if !ok {
		return "", fmt.Errorf("%w: no environment variable for %s", ErrSecretNotFound, key)
	}
	if value := e.lookup(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s not set", ErrSecretNotFound, name)
}

// Set returns ErrReadOnlyBackend.
func (e *EnvBackend) Set(ctx context.Context, key string, value string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// Available returns true.
func (e *EnvBackend) Available() bool {
	return true
}

// Priority returns the backend priority.
func (e *EnvBackend) Priority() int {
	return EnvBackendPriority
}

// ReadOnly returns true.
func (e *EnvBackend) ReadOnly() bool {
	return true
}

// StaticBackend serves values taken from the configuration file.
type StaticBackend struct {
	values map[string]string
}

// NewConfigBackend returns a backend holding the configured API key. An
// empty key yields a backend that finds nothing.
func NewConfigBackend(apiKey string) *StaticBackend {
	values := map[string]string{}
	if apiKey != "" {
		values[APIKeyName] = apiKey
	}
	return &StaticBackend{values: values}
}

// Name returns the backend identifier.
func (s *StaticBackend) Name() string {
	return "config"
}

// Get returns the configured value for key.
func (s *StaticBackend) Get(ctx context.Context, key string) (string, error) {
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s not in config", ErrSecretNotFound, key)
}

// Set returns ErrReadOnlyBackend.
func (s *StaticBackend) Set(ctx context.Context, key string, value string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend.
func (s *StaticBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// Available returns true.
func (s *StaticBackend) Available() bool {
	return true
}

// Priority returns the backend priority.
func (s *StaticBackend) Priority() int {
	return ConfigBackendPriority
}

// ReadOnly returns true.
func (s *StaticBackend) ReadOnly() bool {
	return true
}
