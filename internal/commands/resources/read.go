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

// Package resources implements the read command.
package resources

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/ensemble/internal/app"
	"github.com/tombee/ensemble/internal/chat"
	"github.com/tombee/ensemble/internal/commands/shared"
)

// ReadResponse is the JSON output of read.
type ReadResponse struct {
	shared.JSONResponse
	URI            string   `json:"uri"`
	Server         string   `json:"server"`
	Match          string   `json:"match"`
	Ambiguous      bool     `json:"ambiguous,omitempty"`
	TemplateOwners []string `json:"template_owners,omitempty"`
	Content        string   `json:"content"`
}

// ResourceJSON is one registered resource.
type ResourceJSON struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	Server   string `json:"server"`
	Template bool   `json:"template,omitempty"`
}

// ListResponse is the JSON output of read --list.
type ListResponse struct {
	shared.JSONResponse
	Resources []ResourceJSON `json:"resources"`
}

// NewCommand creates the read command.
func NewCommand() *cobra.Command {
	return newCommand(shared.StartApp)
}

func newCommand(start shared.Starter) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "read <uri | @topic>",
		Short: "Print a resource from whichever server owns it",
		Long: `Resolve a resource URI to the server that registered it and print its
content. "@topic" is shorthand for <resource_scheme>://topic, as in chat.

A URI no server registered verbatim goes to the first server that
registered any resource with the same scheme.`,
		Example: `  ensemble read papers://folders
  ensemble read @quantum_computing
  ensemble read --list`,
		Annotations: map[string]string{"group": "catalog"},
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := start(cmd.Context(), false, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Debug("shutdown", slog.Any("error", err))
				}
			}()

			if list {
				return runList(cmd.OutOrStdout(), a)
			}
			return runRead(cmd.Context(), cmd.OutOrStdout(), a, args[0])
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List registered resources and templates")

	return cmd
}

// expand turns "@topic" into a URI the same way chat does.
func expand(arg, scheme string) string {
	c := chat.Parse(arg)
	if c.Kind == chat.KindResource {
		return c.ResourceURI(scheme)
	}
	return arg
}

func runRead(ctx context.Context, out io.Writer, a *app.App, arg string) error {
	uri := expand(arg, a.Config.ResourceScheme)

	res, content, err := a.Resolver.Fetch(ctx, uri)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, ReadResponse{
			JSONResponse:   shared.NewJSONResponse("read"),
			URI:            uri,
			Server:         res.Session.ServerName(),
			Match:          string(res.Match),
			Ambiguous:      res.Ambiguous,
			TemplateOwners: res.TemplateOwners,
			Content:        content,
		})
	}

	fmt.Fprintln(out, content)
	return nil
}

func runList(out io.Writer, a *app.App) error {
	entries := a.Registry.Resources()
	resp := ListResponse{Resources: make([]ResourceJSON, 0, len(entries))}
	for _, e := range entries {
		resp.Resources = append(resp.Resources, ResourceJSON{
			URI:      e.Resource.URI,
			Name:     e.Resource.Name,
			Server:   e.Session.ServerName(),
			Template: e.Resource.Template,
		})
	}

	if shared.GetJSON() {
		resp.JSONResponse = shared.NewJSONResponse("read")
		return shared.EmitJSON(out, resp)
	}

	if len(resp.Resources) == 0 {
		fmt.Fprintln(out, "No resources available.")
		return nil
	}
	for _, r := range resp.Resources {
		label := r.URI
		if r.Template {
			label += shared.Muted.Render(" (template)")
		}
		fmt.Fprintf(out, "%s %s\n", shared.Cell(label, 40), shared.Muted.Render(r.Server))
	}
	return nil
}
