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
	"errors"
)

// MissingAPIKeyError is returned when no backend holds the API key.
type MissingAPIKeyError struct {
	Searched []string
	Cause    error
}

func (e *MissingAPIKeyError) Error() string {
	return "no Anthropic API key found"
}

func (e *MissingAPIKeyError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements errors.UserVisibleError.
func (e *MissingAPIKeyError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *MissingAPIKeyError) UserMessage() string { return e.Error() }

// Suggestion implements errors.UserVisibleError.
func (e *MissingAPIKeyError) Suggestion() string {
	return "Set ANTHROPIC_API_KEY, add model.api_key to the config file, or run 'ensemble key set'"
}

// APIKey resolves the model API key: the environment first, then the
// configured value, then the keychain. It returns the key and the name of
// the backend that supplied it. The keychain is opened only when the
// environment and the config have no key.
func APIKey(ctx context.Context, configured string) (string, string, error) {
	return lookupAPIKey(ctx, NewEnvBackend(), NewConfigBackend(configured), func() SecretBackend {
		return NewKeychainBackend()
	})
}

func lookupAPIKey(ctx context.Context, env, cfg SecretBackend, keychain func() SecretBackend) (string, string, error) {
	key, source, err := ResolveAPIKey(ctx, NewResolver(env, cfg))
	var missing *MissingAPIKeyError
	if !errors.As(err, &missing) {
		return key, source, err
	}
	return ResolveAPIKey(ctx, NewResolver(env, cfg, keychain()))
}

// ResolveAPIKey looks the API key up through r.
func ResolveAPIKey(ctx context.Context, r *Resolver) (string, string, error) {
	key, source, err := r.Lookup(ctx, APIKeyName)
	if err == nil {
		return key, source, nil
	}
	if errors.Is(err, ErrSecretNotFound) || errors.Is(err, ErrBackendUnavailable) {
		searched := make([]string, 0, len(r.Backends()))
		for _, b := range r.Backends() {
			searched = append(searched, b.Name())
		}
		return "", "", &MissingAPIKeyError{Searched: searched, Cause: err}
	}
	return "", "", err
}
