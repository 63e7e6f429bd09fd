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

// Package servers implements the servers command.
package servers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/ensemble/internal/app"
	"github.com/tombee/ensemble/internal/commands/shared"
	"github.com/tombee/ensemble/internal/mcp"
	"github.com/tombee/ensemble/internal/registry"
)

// KindJSON is one capability kind of one server.
type KindJSON struct {
	State string `json:"state"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// ServerJSON is one configured server.
type ServerJSON struct {
	Name      string              `json:"name"`
	Transport string              `json:"transport"`
	Connected bool                `json:"connected"`
	Error     string              `json:"error,omitempty"`
	ConnectMS int64               `json:"connect_ms"`
	PingMS    *int64              `json:"ping_ms,omitempty"`
	PingError string              `json:"ping_error,omitempty"`
	Kinds     map[string]KindJSON `json:"capabilities,omitempty"`
}

// ToolJSON is one registered tool and its owner.
type ToolJSON struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Description string `json:"description,omitempty"`
}

// Response is the JSON output of servers.
type Response struct {
	shared.JSONResponse
	Servers  []ServerJSON `json:"servers"`
	Tools    []ToolJSON   `json:"tools,omitempty"`
	Shadowed []string     `json:"shadowed,omitempty"`
}

type options struct {
	only  string
	tools bool
	ping  bool
}

// NewCommand creates the servers command.
func NewCommand() *cobra.Command {
	return newCommand(shared.StartApp)
}

func newCommand(start shared.Starter) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Show configured servers and what they offer",
		Long: `Connect to every configured MCP server and report, per server, whether it
connected and how many tools, resources and prompts it registered.

A capability the server does not advertise shows as "unsupported"; one it
advertised but failed to list shows as "failed". Names registered by more
than one server are reported as shadowed; the later server wins.`,
		Example: `  ensemble servers
  ensemble servers --tools
  ensemble servers --only research --ping
  ensemble servers --json | jq '.servers[] | select(.connected | not)'`,
		Annotations: map[string]string{"group": "catalog"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), start, opts)
		},
	}

	cmd.Flags().StringVar(&opts.only, "only", "", "Report only the named server")
	cmd.Flags().BoolVar(&opts.tools, "tools", false, "List every registered tool and its server")
	cmd.Flags().BoolVar(&opts.ping, "ping", false, "Ping each connected server and report the round trip")

	return cmd
}

func run(ctx context.Context, out io.Writer, start shared.Starter, opts options) error {
	a, err := start(ctx, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Debug("shutdown", slog.Any("error", err))
		}
	}()

	report, err := collect(ctx, a, opts)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		report.JSONResponse = shared.NewJSONResponse("servers")
		return shared.EmitJSON(out, report)
	}
	printReport(out, report)
	return nil
}

func collect(ctx context.Context, a *app.App, opts options) (*Response, error) {
	transports := make(map[string]string)
	for _, sc := range a.Config.EnabledServers() {
		transports[sc.Name] = string(sc.TransportOrDefault())
	}
	summaries := make(map[string]registry.ServerSummary, len(a.Summaries))
	for _, s := range a.Summaries {
		summaries[s.Server] = s
	}

	resp := &Response{Servers: []ServerJSON{}}
	for _, r := range a.Manager.Results() {
		if opts.only != "" && r.Name != opts.only {
			continue
		}
		sj := ServerJSON{
			Name:      r.Name,
			Transport: transports[r.Name],
			Connected: r.Err == nil,
			ConnectMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			sj.Error = r.Err.Error()
			resp.Servers = append(resp.Servers, sj)
			continue
		}

		sj.Kinds = make(map[string]KindJSON, len(mcp.CapabilityKinds))
		summary := summaries[r.Name]
		for _, kind := range mcp.CapabilityKinds {
			k := summary.Kind(kind)
			kj := KindJSON{State: string(k.State), Count: k.Count}
			if k.Err != nil {
				kj.Error = k.Err.Error()
			}
			sj.Kinds[string(kind)] = kj
		}

		if opts.ping {
			started := time.Now()
			if err := r.Session.Ping(ctx); err != nil {
				sj.PingError = err.Error()
			} else {
				ms := time.Since(started).Milliseconds()
				sj.PingMS = &ms
			}
		}
		resp.Servers = append(resp.Servers, sj)
	}

	if opts.only != "" && len(resp.Servers) == 0 {
		return nil, shared.NewNotFoundError(fmt.Sprintf("no server named %q in the configuration", opts.only), nil)
	}

	if opts.tools {
		for _, t := range a.Registry.AllTools() {
			owner, ok := a.Registry.FindToolOwner(t.Name)
			if !ok || (opts.only != "" && owner.ServerName() != opts.only) {
				continue
			}
			resp.Tools = append(resp.Tools, ToolJSON{Name: t.Name, Server: owner.ServerName(), Description: t.Description})
		}
	}

	for _, sh := range a.Registry.Shadowed() {
		resp.Shadowed = append(resp.Shadowed, sh.String())
	}
	return resp, nil
}

func printReport(out io.Writer, resp *Response) {
	if len(resp.Servers) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		fmt.Fprintln(out, "\nAdd servers under mcpServers in the config file.")
		return
	}

	fmt.Fprintln(out, shared.Header.Render(fmt.Sprintf("%-16s %-10s %-10s %-12s %-12s %s",
		"SERVER", "TRANSPORT", "TOOLS", "RESOURCES", "PROMPTS", "STATUS")))
	for _, s := range resp.Servers {
		line := shared.Cell(truncate(s.Name, 16), 17) + shared.Cell(s.Transport, 11)
		if !s.Connected {
			line += shared.Cell("-", 11) + shared.Cell("-", 13) + shared.Cell("-", 13) +
				shared.StatusError.Render(shared.SymbolError+" "+s.Error)
			fmt.Fprintln(out, line)
			continue
		}
		line += shared.Cell(kindCell(s, mcp.CapabilityTools), 11) +
			shared.Cell(kindCell(s, mcp.CapabilityResources), 13) +
			shared.Cell(kindCell(s, mcp.CapabilityPrompts), 13)

		status := shared.StatusOK.Render(shared.SymbolOK + " connected")
		switch {
		case s.PingError != "":
			status = shared.StatusWarn.Render(shared.SymbolWarn + " ping failed: " + s.PingError)
		case s.PingMS != nil:
			status += shared.Muted.Render(fmt.Sprintf(" (ping %dms)", *s.PingMS))
		}
		fmt.Fprintln(out, line+status)
	}

	if len(resp.Tools) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.Header.Render("Tools"))
		for _, t := range resp.Tools {
			desc := ""
			if t.Description != "" {
				desc = shared.Muted.Render(" - " + truncate(firstLine(t.Description), 60))
			}
			fmt.Fprintf(out, "  %s %s%s\n", t.Name, shared.Muted.Render("("+t.Server+")"), desc)
		}
	}

	if len(resp.Shadowed) > 0 {
		fmt.Fprintln(out)
		for _, s := range resp.Shadowed {
			fmt.Fprintln(out, shared.RenderWarn(s))
		}
	}
}

func kindCell(s ServerJSON, kind mcp.CapabilityKind) string {
	k := s.Kinds[string(kind)]
	return shared.RenderKindState(registry.KindSummary{
		Kind:  kind,
		State: registry.KindState(k.State),
		Count: k.Count,
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
