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

package chat

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/ensemble/internal/chat"
	"github.com/tombee/ensemble/internal/commands/shared"
	"github.com/tombee/ensemble/internal/engine"
)

// AskResponse is the JSON output of ask.
type AskResponse struct {
	shared.JSONResponse
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	Truncated      bool   `json:"truncated"`
	Rounds         int    `json:"rounds"`
	ToolCalls      int    `json:"tool_calls"`
	InputTokens    int    `json:"input_tokens"`
	OutputTokens   int    `json:"output_tokens"`
	DurationMS     int64  `json:"duration_ms"`
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	return newAskCommand(shared.StartApp)
}

func newAskCommand(start shared.Starter) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ask [query...]",
		Short: "Answer one query and exit",
		Long: `Send a single query through the same tool-calling loop as chat and print
the final answer. With no arguments the query is read from standard input.

Tool activity is written to standard error so the answer can be piped.`,
		Example: `  ensemble ask "Summarise the latest papers on diffusion models"
  ensemble ask --json "What's the forecast for Leeds?" | jq .answer`,
		Annotations: map[string]string{"group": "session"},
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return runAsk(cmd, start, query, quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not report tool activity")

	return cmd
}

func readQuery(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	query := strings.TrimSpace(string(data))
	if query == "" {
		return "", &chat.UsageError{Usage: "Usage: ensemble ask <query> (or pipe the query on stdin)"}
	}
	return query, nil
}

func runAsk(cmd *cobra.Command, start shared.Starter, query string, quiet bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observer engine.Observer
	progress := chat.NewPrinter(cmd.ErrOrStderr())
	if !quiet && !shared.GetJSON() {
		observer = progress
	}

	a, err := start(ctx, true, observer)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Debug("shutdown", slog.Any("error", err))
		}
	}()
	if !shared.GetJSON() {
		warnUnavailable(progress, a)
	}

	res, err := a.Engine.Process(ctx, query)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), AskResponse{
			JSONResponse:   shared.NewJSONResponse("ask"),
			ConversationID: res.ConversationID,
			Answer:         res.Text,
			Truncated:      res.Truncated,
			Rounds:         res.Rounds,
			ToolCalls:      res.ToolCalls,
			InputTokens:    res.Usage.InputTokens,
			OutputTokens:   res.Usage.OutputTokens,
			DurationMS:     res.Duration.Milliseconds(),
		})
	}

	if res.Truncated {
		progress.Warn(res.Text)
		return shared.NewExecutionError("no final answer", nil)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	return nil
}
