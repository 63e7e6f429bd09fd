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

var (
	// ErrSecretNotFound means the backend holds no value for the key.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable means the backend cannot be reached here, for
	// example a keychain on a headless host.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrReadOnlyBackend is returned by Set and Delete on the environment
	// and config backends.
	ErrReadOnlyBackend = errors.New("backend is read-only")
)

// SecretBackend is one place the model API key may live. The Resolver
// asks backends from highest to lowest Priority and stops at the first hit.
type SecretBackend interface {
	// Name is the value reported as the key source ("env", "config", "keychain").
	Name() string

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error

	// Available is false when the backend should be skipped entirely.
	Available() bool

	Priority() int
}

// ReadOnlyBackend marks backends that `ensemble key set` must not write to.
type ReadOnlyBackend interface {
	SecretBackend
	ReadOnly() bool
}
