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
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	ensembleerrors "github.com/tombee/ensemble/pkg/errors"
)

type styles struct {
	tool    lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
}

// newStyles binds the palette to out; a writer that is not a color
// terminal gets plain text.
func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		tool:    r.NewStyle().Foreground(lipgloss.Color("39")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		err:     r.NewStyle().Foreground(lipgloss.Color("196")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("245")),
		heading: r.NewStyle().Bold(true),
	}
}

// Printer writes conversational output. It is also the engine's observer,
// so tool activity appears as it happens.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, styles: newStyles(out)}
}

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

// InterimText prints text the model sent alongside tool calls.
func (p *Printer) InterimText(text string) {
	p.println(text)
}

// ToolCall announces a tool invocation.
func (p *Printer) ToolCall(name, arguments string) {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	p.println(p.styles.tool.Render(fmt.Sprintf("Calling tool %s with args %s", name, arguments)))
}

// ToolResult reports failed invocations; successful results are only seen
// by the model.
func (p *Printer) ToolResult(name, content string, isError bool) {
	if !isError {
		return
	}
	p.println(p.styles.warn.Render(fmt.Sprintf("Tool %s failed: %s", name, firstLine(content))))
}

// Answer prints a final answer.
func (p *Printer) Answer(text string) {
	p.println(text)
}

// Text prints s unstyled.
func (p *Printer) Text(s string) {
	p.println(s)
}

// Notice prints s de-emphasized.
func (p *Printer) Notice(s string) {
	p.println(p.styles.muted.Render(s))
}

// Warn prints a warning.
func (p *Printer) Warn(s string) {
	p.println(p.styles.warn.Render(s))
}

// Heading prints a section title.
func (p *Printer) Heading(s string) {
	p.println(p.styles.heading.Render(s))
}

// Error prints err and, when the chain carries one, its suggestion.
func (p *Printer) Error(err error) {
	msg := err.Error()
	var suggestion string
	if uv, ok := ensembleerrors.FindUserVisible(err); ok {
		suggestion = uv.Suggestion()
	}

	p.println("\n" + p.styles.err.Render("Error: "+msg))
	if suggestion != "" {
		p.println(p.styles.muted.Render("  " + suggestion))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// prompt writes s without a trailing newline.
func (p *Printer) prompt(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, s)
}
