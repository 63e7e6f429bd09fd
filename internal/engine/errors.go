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

package engine

import (
	"errors"
	"fmt"

	ensembleerrors "github.com/tombee/ensemble/pkg/errors"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// ModelInferenceError reports a failed model request. The query is
// abandoned; the conversation keeps every turn appended before the failure.
type ModelInferenceError struct {
	Provider string
	// Round is the number of completed tool rounds before the failure.
	Round int
	Cause error
}

func (e *ModelInferenceError) Error() string {
	return fmt.Sprintf("model inference failed (%s): %v", e.Provider, e.Cause)
}

func (e *ModelInferenceError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements errors.UserVisibleError.
func (e *ModelInferenceError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *ModelInferenceError) UserMessage() string { return e.Error() }

// Suggestion implements errors.UserVisibleError, using the provider's hint
// when there is one.
func (e *ModelInferenceError) Suggestion() string {
	var provErr *ensembleerrors.ProviderError
	if errors.As(e.Cause, &provErr) && provErr.Suggestion != "" {
		return provErr.Suggestion
	}
	return "The conversation is intact; try the query again"
}
