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

package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed lookup errors via errors.Is.
var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrResourceNotFound = errors.New("resource not found")
	ErrPromptNotFound   = errors.New("prompt not found")
)

// UnknownToolError is returned when no connected server registered a tool.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Is matches ErrUnknownTool.
func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// IsUserVisible implements errors.UserVisibleError.
func (e *UnknownToolError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *UnknownToolError) UserMessage() string { return e.Error() }

// Suggestion implements errors.UserVisibleError.
func (e *UnknownToolError) Suggestion() string {
	return "Run 'ensemble servers' to see which tools each server exposes"
}

// ResourceNotFoundError is returned when no registered resource matches a URI.
// Known lists every registered resource identifier in registration order.
type ResourceNotFoundError struct {
	URI   string
	Known []string
}

func (e *ResourceNotFoundError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("resource not found: %s (no resources are registered)", e.URI)
	}
	return fmt.Sprintf("resource not found: %s (known resources: %s)", e.URI, strings.Join(e.Known, ", "))
}

// Is matches ErrResourceNotFound.
func (e *ResourceNotFoundError) Is(target error) bool { return target == ErrResourceNotFound }

// IsUserVisible implements errors.UserVisibleError.
func (e *ResourceNotFoundError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *ResourceNotFoundError) UserMessage() string { return e.Error() }

// Suggestion implements errors.UserVisibleError.
func (e *ResourceNotFoundError) Suggestion() string {
	return "Use @<name> for the default scheme or a full URI such as @scheme://path"
}

// PromptNotFoundError is returned for a prompt name no server registered.
type PromptNotFoundError struct {
	Name string
}

func (e *PromptNotFoundError) Error() string {
	return fmt.Sprintf("prompt not found: %s", e.Name)
}

// Is matches ErrPromptNotFound.
func (e *PromptNotFoundError) Is(target error) bool { return target == ErrPromptNotFound }

// IsUserVisible implements errors.UserVisibleError.
func (e *PromptNotFoundError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *PromptNotFoundError) UserMessage() string { return e.Error() }

// Suggestion implements errors.UserVisibleError.
func (e *PromptNotFoundError) Suggestion() string {
	return "List available prompts with /prompts"
}
