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

package errors

// UserVisibleError is an error whose message and suggestion are fit to
// print. The CLI and the chat printer look for one with FindUserVisible
// before falling back to err.Error().
//
// Implemented by the typed errors here, mcp.MCPError, the registry lookup
// errors, engine.ModelInferenceError and secrets.MissingAPIKeyError.
type UserVisibleError interface {
	error

	// IsUserVisible lets a type opt out per instance.
	IsUserVisible() bool

	UserMessage() string

	// Suggestion is a next step for the user, or "".
	Suggestion() string
}

// ErrorClassifier categorizes an error for exit codes and retries.
type ErrorClassifier interface {
	error

	// ErrorType is one of "validation", "not_found", "timeout",
	// "provider" or "config".
	ErrorType() string

	// IsRetryable reports whether the same request may succeed later.
	// pkg/llm retries model calls only when this is true.
	IsRetryable() bool
}
