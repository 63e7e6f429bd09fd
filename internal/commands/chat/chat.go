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

// Package chat implements the chat and ask commands.
package chat

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/ensemble/internal/app"
	"github.com/tombee/ensemble/internal/chat"
	"github.com/tombee/ensemble/internal/commands/shared"
)

// NewCommand creates the chat command.
func NewCommand() *cobra.Command {
	return newCommand(shared.StartApp)
}

func newCommand(start shared.Starter) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Long: `Connect to every configured MCP server and chat with the model, which may
call any tool the servers offer.

Lines are sent to the model as queries, except for these commands:

  @<topic>                Read papers://<topic> (the scheme is configurable)
  @<scheme>://<path>      Read any resource
  /prompts                List prompts
  /prompt <name> k=v ...  Run a prompt and send the result as a query
  clear                   Start a new conversation
  quit                    Exit

Input may be piped; the banner and prompt are shown only on a terminal.`,
		Example: `  ensemble chat
  echo "What papers cover quantum error correction?" | ensemble chat`,
		Annotations: map[string]string{"group": "session"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, start)
		},
	}
}

func runChat(cmd *cobra.Command, start shared.Starter) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := chat.NewPrinter(cmd.OutOrStdout())
	a, err := start(ctx, true, printer)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Debug("shutdown", slog.Any("error", err))
		}
	}()

	announceServers(printer, a)
	warnUnavailable(printer, a)

	repl := chat.New(chat.Config{
		Engine:         a.Engine,
		Resources:      a.Resolver,
		Catalog:        a.Registry,
		Prompts:        a.Prompts,
		ResourceScheme: a.Config.ResourceScheme,
		In:             cmd.InOrStdin(),
		Printer:        printer,
		Interactive:    shared.IsInteractive(),
	})
	return repl.Run(ctx)
}

// announceServers lists what each connected server contributed and any
// names a later server took over.
func announceServers(printer *chat.Printer, a *app.App) {
	owned := map[string][]string{}
	for _, tool := range a.Registry.AllTools() {
		if s, ok := a.Registry.FindToolOwner(tool.Name); ok {
			owned[s.ServerName()] = append(owned[s.ServerName()], tool.Name)
		}
	}
	for _, summary := range a.Summaries {
		printer.Text("Connected to " + summary.String())
		if names := owned[summary.Server]; len(names) > 0 {
			printer.Notice("  tools: " + strings.Join(names, ", "))
		}
	}
	for _, sh := range a.Registry.Shadowed() {
		printer.Warn("Note: " + sh.String())
	}
}

// warnUnavailable tells the user about servers that did not connect.
func warnUnavailable(printer *chat.Printer, a *app.App) {
	for _, f := range a.Manager.Failures() {
		printer.Warn(fmt.Sprintf("Server %s unavailable: %v", f.Name, f.Err))
	}
	if len(a.Manager.Sessions()) == 0 {
		printer.Warn("No servers connected; the model will answer without tools.")
	}
}
