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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/ensemble/internal/chat"
	"github.com/tombee/ensemble/internal/engine"
	"github.com/tombee/ensemble/internal/registry"
	"github.com/tombee/ensemble/internal/secrets"
	pkgerrors "github.com/tombee/ensemble/pkg/errors"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitUsage           = 2
	ExitConfigError     = 3
	ExitProviderError   = 4
	ExitNotFound        = 5
)

// ExitError is an error that carries an exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for a failed command.
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionFailed, Message: msg, Cause: cause}
}

// NewConfigError creates an error for configuration problems.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

// NewProviderError creates an error for model provider failures.
func NewProviderError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitProviderError, Message: msg, Cause: cause}
}

// NewNotFoundError creates an error for unknown tools, resources or prompts.
func NewNotFoundError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitNotFound, Message: msg, Cause: cause}
}

// Classify picks the exit code for err. Errors that already carry one are
// returned unchanged.
func Classify(err error) *ExitError {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	var (
		cfgErr   *pkgerrors.ConfigError
		missing  *secrets.MissingAPIKeyError
		infErr   *engine.ModelInferenceError
		provErr  *pkgerrors.ProviderError
		usageErr *chat.UsageError
	)
	switch {
	case errors.As(err, &usageErr):
		return &ExitError{Code: ExitUsage, Cause: err}
	case errors.As(err, &cfgErr):
		return NewConfigError("", err)
	case errors.As(err, &missing), errors.As(err, &infErr), errors.As(err, &provErr):
		return NewProviderError("", err)
	case errors.Is(err, registry.ErrUnknownTool),
		errors.Is(err, registry.ErrResourceNotFound),
		errors.Is(err, registry.ErrPromptNotFound):
		return NewNotFoundError("", err)
	}
	return NewExecutionError("", err)
}

// HandleExitError prints err with its suggestion and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	exitErr := Classify(err)
	PrintError(os.Stderr, exitErr)
	os.Exit(exitErr.Code)
}

// PrintError writes "Error: ..." and, when the chain carries one, a
// suggestion.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, RenderError(err.Error()))
	if s := suggestionFor(err); s != "" {
		fmt.Fprintf(w, "\n%s %s\n", Muted.Render("Suggestion:"), s)
	}
}

// suggestionFor returns the first suggestion in err's chain. Provider
// errors carry theirs as a field rather than through UserVisibleError.
func suggestionFor(err error) string {
	if uv, ok := pkgerrors.FindUserVisible(err); ok && uv.Suggestion() != "" {
		return uv.Suggestion()
	}
	var provErr *pkgerrors.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Suggestion
	}
	return ""
}
