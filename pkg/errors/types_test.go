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

package errors_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ensembleerrors "github.com/tombee/ensemble/pkg/errors"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation with field",
			err:  &ensembleerrors.ValidationError{Field: "max_steps", Message: "must be positive"},
			want: "validation failed on max_steps: must be positive",
		},
		{
			name: "validation without field",
			err:  &ensembleerrors.ValidationError{Message: "empty query"},
			want: "validation failed: empty query",
		},
		{
			name: "not found",
			err:  &ensembleerrors.NotFoundError{Resource: "config file", ID: "/tmp/x.yaml"},
			want: "config file not found: /tmp/x.yaml",
		},
		{
			name: "provider",
			err: &ensembleerrors.ProviderError{
				Provider: "anthropic", StatusCode: 429, Message: "rate limited", RequestID: "req_1",
			},
			want: "provider anthropic error [HTTP 429]: rate limited (request-id: req_1)",
		},
		{
			name: "config with key",
			err:  &ensembleerrors.ConfigError{Key: "model.max_tokens", Reason: "must be positive"},
			want: "config error at model.max_tokens: must be positive",
		},
		{
			name: "timeout",
			err:  &ensembleerrors.TimeoutError{Operation: "model request", Duration: 2 * time.Second},
			want: "model request operation timed out after 2s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestProviderError_IsRetryable(t *testing.T) {
	for status, want := range map[int]bool{400: false, 401: false, 408: true, 429: true, 500: true, 529: true} {
		err := &ensembleerrors.ProviderError{Provider: "anthropic", StatusCode: status}
		assert.Equal(t, want, err.IsRetryable(), "status %d", status)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("query: %w", &ensembleerrors.ProviderError{Provider: "anthropic", Message: "failed", Cause: cause})

	assert.ErrorIs(t, err, cause)

	var pe *ensembleerrors.ProviderError
	assert.True(t, ensembleerrors.As(err, &pe))
	assert.Equal(t, "anthropic", pe.Provider)
}
