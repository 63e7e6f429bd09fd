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

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/ensemble/internal/commands/shared"
)

// CommandMetadata describes one command in `help --json` output.
type CommandMetadata struct {
	Name        string         `json:"name"`
	Short       string         `json:"short"`
	Long        string         `json:"long,omitempty"`
	Usage       string         `json:"usage"`
	Flags       []FlagMetadata `json:"flags,omitempty"`
	Examples    string         `json:"examples,omitempty"`
	Subcommands []string       `json:"subcommands,omitempty"`
	Group       string         `json:"group,omitempty"`
	Aliases     []string       `json:"aliases,omitempty"`
}

// FlagMetadata describes one flag.
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required"`
}

// HelpResponse is the JSON output of the help command.
type HelpResponse struct {
	shared.JSONResponse
	Commands    []CommandMetadata `json:"commands,omitempty"`
	Command     *CommandMetadata  `json:"command_info,omitempty"`
	GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
}

// commandGroups orders the overview; commands without a known group are
// listed last under "Other".
var commandGroups = []struct {
	id    string
	title string
}{
	{"session", "Session"},
	{"catalog", "Catalog"},
	{"setup", "Setup"},
}

// NewHelpCommand creates the help command
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Show the commands grouped by what they do, or the full help of one command.

Add --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			useJSON := shared.GetJSON() || jsonOutput

			if len(args) == 0 {
				if useJSON {
					return shared.EmitJSON(cmd.OutOrStdout(), HelpResponse{
						JSONResponse: shared.NewJSONResponse("help"),
						Commands:     visibleCommands(rootCmd),
						GlobalFlags:  flagMetadata(rootCmd.PersistentFlags()),
					})
				}
				return writeOverview(cmd.OutOrStdout(), rootCmd)
			}

			target, _, err := rootCmd.Find(args)
			if err != nil || target == rootCmd {
				return fmt.Errorf("command %q not found", args[0])
			}

			if !useJSON {
				return target.Help()
			}
			meta := describe(target)
			return shared.EmitJSON(cmd.OutOrStdout(), HelpResponse{
				JSONResponse: shared.NewJSONResponse("help " + target.Name()),
				Command:      &meta,
				GlobalFlags:  flagMetadata(rootCmd.PersistentFlags()),
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func visibleCommands(root *cobra.Command) []CommandMetadata {
	commands := []CommandMetadata{}
	for _, c := range root.Commands() {
		if !c.Hidden {
			commands = append(commands, describe(c))
		}
	}
	return commands
}

// writeOverview prints the root description followed by the commands
// of each group and the global flags.
func writeOverview(w io.Writer, root *cobra.Command) error {
	var b strings.Builder
	if root.Long != "" {
		b.WriteString(strings.TrimSpace(root.Long))
		b.WriteString("\n\n")
	}

	byGroup := map[string][]*cobra.Command{}
	width := 0
	for _, c := range root.Commands() {
		if c.Hidden {
			continue
		}
		group := c.Annotations["group"]
		if !knownGroup(group) {
			group = ""
		}
		byGroup[group] = append(byGroup[group], c)
		width = max(width, len(c.Name()))
	}

	section := func(title string, cmds []*cobra.Command) {
		if len(cmds) == 0 {
			return
		}
		b.WriteString(shared.Header.Render(title + ":"))
		b.WriteString("\n")
		for _, c := range cmds {
			fmt.Fprintf(&b, "  %-*s  %s\n", width, c.Name(), c.Short)
		}
		b.WriteString("\n")
	}
	for _, g := range commandGroups {
		section(g.title, byGroup[g.id])
	}
	section("Other", byGroup[""])

	if usages := root.PersistentFlags().FlagUsages(); usages != "" {
		b.WriteString(shared.Header.Render("Global flags:"))
		b.WriteString("\n")
		b.WriteString(usages)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Use \"%s help <command>\" for more about a command.\n", root.Name())

	_, err := io.WriteString(w, b.String())
	return err
}

func knownGroup(id string) bool {
	for _, g := range commandGroups {
		if g.id == id {
			return true
		}
	}
	return false
}

func describe(cmd *cobra.Command) CommandMetadata {
	meta := CommandMetadata{
		Name:     cmd.Name(),
		Short:    cmd.Short,
		Long:     cmd.Long,
		Usage:    cmd.UseLine(),
		Examples: cmd.Example,
		Aliases:  cmd.Aliases,
		Group:    cmd.Annotations["group"],
	}
	if flags := flagMetadata(cmd.Flags()); len(flags) > 0 {
		meta.Flags = flags
	}
	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			meta.Subcommands = append(meta.Subcommands, sub.Name())
		}
	}
	return meta
}

func flagMetadata(fs *pflag.FlagSet) []FlagMetadata {
	flags := []FlagMetadata{}
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		flags = append(flags, FlagMetadata{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  required,
		})
	})
	return flags
}
