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
	"context"
	"log/slog"
	"strings"

	"github.com/tombee/ensemble/internal/mcp"
)

// PromptRunner fetches prompts from their owning session and renders them
// as plain text suitable for a conversation query.
type PromptRunner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewPromptRunner creates a prompt runner over reg.
func NewPromptRunner(reg *Registry, logger *slog.Logger) *PromptRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptRunner{
		registry: reg,
		logger:   logger.With(slog.String("component", "prompts")),
	}
}

// Render gets the named prompt with args, all passed as strings, and
// renders its description, a blank line, then each message's text.
func (p *PromptRunner) Render(ctx context.Context, name string, args map[string]string) (string, error) {
	entry, ok := p.registry.FindPromptInfo(name)
	if !ok {
		return "", &PromptNotFoundError{Name: name}
	}

	for _, a := range entry.Prompt.Arguments {
		if _, given := args[a.Name]; a.Required && !given {
			p.logger.Debug("required prompt argument not given",
				slog.String("prompt", name),
				slog.String("argument", a.Name))
		}
	}

	result, err := entry.Session.GetPrompt(ctx, mcp.PromptRequest{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	return RenderPrompt(result), nil
}

// RenderPrompt turns a prompt result into text: the description and the
// message texts separated by a blank line. Non-text message content is
// rendered like tool output.
func RenderPrompt(result *mcp.PromptResult) string {
	texts := make([]string, 0, len(result.Messages))
	for _, m := range result.Messages {
		if t := RenderToolContent([]mcp.ContentItem{m.Content}); t != "" {
			texts = append(texts, t)
		}
	}
	body := strings.Join(texts, "\n")

	switch {
	case result.Description != "" && body != "":
		return result.Description + "\n\n" + body
	case result.Description != "":
		return result.Description
	case body != "":
		return body
	default:
		return EmptyPromptText
	}
}

// EmptyPromptText is rendered for a prompt with no description or content.
const EmptyPromptText = "Prompt executed but returned no content."
