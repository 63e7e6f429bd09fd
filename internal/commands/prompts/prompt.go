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

// Package prompts implements the prompt command.
package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/ensemble/internal/app"
	"github.com/tombee/ensemble/internal/chat"
	"github.com/tombee/ensemble/internal/commands/shared"
	"github.com/tombee/ensemble/internal/registry"
)

// ArgumentJSON is one declared prompt argument.
type ArgumentJSON struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// PromptJSON is one registered prompt.
type PromptJSON struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Server      string         `json:"server"`
	Arguments   []ArgumentJSON `json:"arguments,omitempty"`
}

// ListResponse is the JSON output of prompt with no name.
type ListResponse struct {
	shared.JSONResponse
	Prompts []PromptJSON `json:"prompts"`
}

// RenderResponse is the JSON output of a rendered prompt.
type RenderResponse struct {
	shared.JSONResponse
	Name   string `json:"name"`
	Server string `json:"server"`
	Text   string `json:"text"`
	Answer string `json:"answer,omitempty"`
}

// NewCommand creates the prompt command.
func NewCommand() *cobra.Command {
	return newCommand(shared.StartApp)
}

func newCommand(start shared.Starter) *cobra.Command {
	var send bool

	cmd := &cobra.Command{
		Use:   "prompt [name] [key=value...]",
		Short: "List server prompts, or render one",
		Long: `With no arguments, list every prompt the connected servers registered.

With a name, fetch that prompt from its server with the given arguments and
print the rendered text. --send also sends the text to the model, as
'/prompt' does in chat, and prints the answer.

Arguments are key=value pairs; values are always passed as strings.`,
		Example: `  ensemble prompt
  ensemble prompt generate_search_prompt topic=history num_papers=5
  ensemble prompt --send generate_search_prompt topic=optics`,
		Annotations: map[string]string{"group": "catalog"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if send {
					return &chat.UsageError{Usage: "Usage: ensemble prompt --send <name> [key=value...]"}
				}
				return runList(cmd, start)
			}
			c, err := parseArgs(args)
			if err != nil {
				return err
			}
			return runRender(cmd, start, c, send)
		},
	}

	cmd.Flags().BoolVar(&send, "send", false, "Send the rendered prompt to the model and print the answer")

	return cmd
}

// parseArgs reads "name key=value..." from the command line. Unlike the
// chat form, a value may contain spaces when the shell quoted it.
func parseArgs(args []string) (chat.Command, error) {
	c := chat.Command{Kind: chat.KindPrompt, Prompt: args[0], Args: make(map[string]string, len(args)-1)}
	for _, pair := range args[1:] {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return chat.Command{}, &chat.UsageError{Usage: fmt.Sprintf("argument %q is not key=value\nUsage: ensemble prompt <name> <arg1=value1> <arg2=value2>", pair)}
		}
		c.Args[key] = value
	}
	return c, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Debug("shutdown", slog.Any("error", err))
	}
}

func runList(cmd *cobra.Command, start shared.Starter) error {
	a, err := start(cmd.Context(), false, nil)
	if err != nil {
		return err
	}
	defer closeApp(a)

	entries := a.Registry.Prompts()
	out := cmd.OutOrStdout()
	if !shared.GetJSON() {
		fmt.Fprint(out, chat.FormatPromptList(entries))
		if len(entries) == 0 {
			fmt.Fprintln(out)
		}
		return nil
	}

	resp := ListResponse{JSONResponse: shared.NewJSONResponse("prompt"), Prompts: make([]PromptJSON, 0, len(entries))}
	for _, e := range entries {
		resp.Prompts = append(resp.Prompts, toJSON(e))
	}
	return shared.EmitJSON(out, resp)
}

func toJSON(e registry.PromptEntry) PromptJSON {
	p := PromptJSON{
		Name:        e.Prompt.Name,
		Description: e.Prompt.Description,
		Server:      e.Session.ServerName(),
	}
	for _, a := range e.Prompt.Arguments {
		p.Arguments = append(p.Arguments, ArgumentJSON{Name: a.Name, Description: a.Description, Required: a.Required})
	}
	return p
}

func runRender(cmd *cobra.Command, start shared.Starter, c chat.Command, send bool) error {
	var printer *chat.Printer
	if send && !shared.GetJSON() {
		printer = chat.NewPrinter(cmd.ErrOrStderr())
	}

	ctx := cmd.Context()
	a, err := startFor(ctx, start, send, printer)
	if err != nil {
		return err
	}
	defer closeApp(a)

	entry, ok := a.Registry.FindPromptInfo(c.Prompt)
	if !ok {
		return &registry.PromptNotFoundError{Name: c.Prompt}
	}
	text, err := a.Prompts.Render(ctx, c.Prompt, c.Args)
	if err != nil {
		return err
	}

	resp := RenderResponse{Name: c.Prompt, Server: entry.Session.ServerName(), Text: text}
	if send {
		res, err := a.Engine.Process(ctx, text)
		if err != nil {
			return err
		}
		resp.Answer = res.Text
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		resp.JSONResponse = shared.NewJSONResponse("prompt")
		return shared.EmitJSON(out, resp)
	}
	if send {
		fmt.Fprintln(out, resp.Answer)
		return nil
	}
	fmt.Fprintln(out, text)
	return nil
}

// startFor starts the application, with the model only when the prompt
// is to be sent. A nil printer means no progress output.
func startFor(ctx context.Context, start shared.Starter, withModel bool, printer *chat.Printer) (*app.App, error) {
	if printer == nil {
		return start(ctx, withModel, nil)
	}
	return start(ctx, withModel, printer)
}
