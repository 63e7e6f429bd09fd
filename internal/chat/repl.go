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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tombee/ensemble/internal/engine"
	"github.com/tombee/ensemble/internal/log"
	"github.com/tombee/ensemble/internal/registry"
)

// Engine processes queries within one conversation.
type Engine interface {
	Process(ctx context.Context, query string) (*engine.Result, error)
	Clear()
}

// ResourceReader resolves and reads a resource URI.
type ResourceReader interface {
	Read(ctx context.Context, uri string) (string, error)
}

// PromptCatalog lists the registered prompts.
type PromptCatalog interface {
	Prompts() []registry.PromptEntry
}

// PromptRenderer fetches and renders a prompt.
type PromptRenderer interface {
	Render(ctx context.Context, name string, args map[string]string) (string, error)
}

// UsageError is a malformed command.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return e.Usage }

// Config configures a REPL.
type Config struct {
	Engine    Engine
	Resources ResourceReader
	Catalog   PromptCatalog
	Prompts   PromptRenderer

	// ResourceScheme expands "@name" (default "papers").
	ResourceScheme string

	In      io.Reader
	Printer *Printer

	// Interactive shows the banner and the input prompt; it is off when
	// input is piped.
	Interactive bool

	Logger *slog.Logger
}

// REPL reads commands line by line and executes them until quit or EOF.
type REPL struct {
	engine      Engine
	resources   ResourceReader
	catalog     PromptCatalog
	prompts     PromptRenderer
	scheme      string
	in          io.Reader
	printer     *Printer
	interactive bool
	logger      *slog.Logger
}

// New creates a REPL.
func New(cfg Config) *REPL {
	r := &REPL{
		engine:      cfg.Engine,
		resources:   cfg.Resources,
		catalog:     cfg.Catalog,
		prompts:     cfg.Prompts,
		scheme:      cfg.ResourceScheme,
		in:          cfg.In,
		printer:     cfg.Printer,
		interactive: cfg.Interactive,
		logger:      cfg.Logger,
	}
	if r.scheme == "" {
		r.scheme = "papers"
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = log.WithComponent(r.logger, "chat")
	return r
}

const banner = `
MCP Chatbot Started!
Type your queries or 'quit' to exit.`

// Run executes commands read from the input. It returns nil on quit, EOF
// or cancellation of ctx; a failing command is reported and the loop goes
// on.
func (r *REPL) Run(ctx context.Context) error {
	if r.interactive {
		r.printer.Text(banner)
		r.printer.Notice(r.helpText())
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if r.interactive {
			r.printer.prompt("\nQuery: ")
		}

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			line = l
		}

		quit, err := r.Execute(ctx, Parse(line))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.report(err)
		}
		if quit {
			return nil
		}
	}
}

func (r *REPL) report(err error) {
	var usage *UsageError
	if errors.As(err, &usage) {
		r.printer.Warn(usage.Usage)
		return
	}
	r.logger.Debug("command failed", log.Error(err))
	r.printer.Error(err)
}

// Execute runs one command. quit is true when the session should end.
func (r *REPL) Execute(ctx context.Context, cmd Command) (quit bool, err error) {
	switch cmd.Kind {
	case KindEmpty:
		return false, nil

	case KindQuit:
		return true, nil

	case KindClear:
		r.engine.Clear()
		r.printer.Notice("Conversation cleared.")
		return false, nil

	case KindHelp:
		r.printer.Text(r.helpText())
		return false, nil

	case KindInvalid:
		return false, &UsageError{Usage: cmd.Usage}

	case KindResource:
		content, err := r.resources.Read(ctx, cmd.ResourceURI(r.scheme))
		if err != nil {
			return false, err
		}
		r.printer.Text(content)
		return false, nil

	case KindListPrompts:
		r.printer.Text(strings.TrimRight(FormatPromptList(r.catalog.Prompts()), "\n"))
		return false, nil

	case KindPrompt:
		text, err := r.prompts.Render(ctx, cmd.Prompt, cmd.Args)
		if err != nil {
			return false, err
		}
		return false, r.Query(ctx, text)

	case KindQuery:
		return false, r.Query(ctx, cmd.Text)
	}

	return false, fmt.Errorf("unhandled command kind %s", cmd.Kind)
}

// Query sends text to the engine and prints the answer.
func (r *REPL) Query(ctx context.Context, text string) error {
	res, err := r.engine.Process(ctx, text)
	if err != nil {
		return err
	}
	if res.Truncated {
		r.printer.Warn(res.Text)
		return nil
	}
	if res.Text != "" {
		r.printer.Answer(res.Text)
	}
	return nil
}

func (r *REPL) helpText() string {
	return fmt.Sprintf(`Special commands:
  @folders - List available topics
  @<topic> - Read %s://<topic>
  @<scheme>://<path> - Read any resource
  /prompts - List available prompts
  /prompt <name> <arg1=value1> - Execute a prompt
  clear - Start a new conversation
  quit - Exit`, r.scheme)
}

// FormatPromptList renders the prompt catalog for display.
func FormatPromptList(prompts []registry.PromptEntry) string {
	if len(prompts) == 0 {
		return "No prompts available."
	}

	var sb strings.Builder
	sb.WriteString("Available prompts:\n\n")
	for _, p := range prompts {
		def := p.Prompt
		fmt.Fprintf(&sb, "- **%s**: %s\n", def.Name, def.Description)
		if len(def.Arguments) > 0 {
			args := make([]string, len(def.Arguments))
			for i, a := range def.Arguments {
				desc := a.Description
				if desc == "" {
					desc = "value"
				}
				args[i] = a.Name + "=" + desc
			}
			fmt.Fprintf(&sb, "  Usage: /prompt %s %s\n", def.Name, strings.Join(args, " "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
