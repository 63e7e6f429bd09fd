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
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot() *cobra.Command {
	root := &cobra.Command{Use: "test", Short: "Test command"}
	root.PersistentFlags().Bool("verbose", false, "Verbose output")

	sample := &cobra.Command{
		Use:         "sample <uri>",
		Short:       "Sample subcommand",
		Example:     "  test sample papers://x",
		Annotations: map[string]string{"group": "catalog"},
		Run:         func(*cobra.Command, []string) {},
	}
	sample.Flags().String("only", "", "Only this server")
	sample.Flags().String("name", "", "Required name")
	_ = sample.MarkFlagRequired("name")
	root.AddCommand(sample)

	root.SetHelpCommand(NewHelpCommand(root))
	return root
}

func runHelp(t *testing.T, root *cobra.Command, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"help"}, args...))
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestHelpCommand_JSONListsCommands(t *testing.T) {
	out := runHelp(t, newTestRoot(), "--json")

	var resp HelpResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "help", resp.JSONResponse.Command)
	assert.Nil(t, resp.Command)

	var names []string
	for _, c := range resp.Commands {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "sample")
	require.Len(t, resp.GlobalFlags, 1)
	assert.Equal(t, "verbose", resp.GlobalFlags[0].Name)
}

func TestHelpCommand_JSONSingleCommand(t *testing.T) {
	out := runHelp(t, newTestRoot(), "sample", "--json")

	var resp HelpResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Command)
	assert.Equal(t, "help sample", resp.JSONResponse.Command)
	assert.Equal(t, "sample", resp.Command.Name)
	assert.Equal(t, "catalog", resp.Command.Group)
	assert.Contains(t, resp.Command.Examples, "papers://x")
	assert.Empty(t, resp.Commands)

	flags := map[string]FlagMetadata{}
	for _, f := range resp.Command.Flags {
		flags[f.Name] = f
	}
	assert.True(t, flags["name"].Required)
	assert.False(t, flags["only"].Required)
}

func TestHelpCommand_HumanOutput(t *testing.T) {
	out := runHelp(t, newTestRoot())
	assert.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	assert.Contains(t, out, "sample")
}

func TestHelpCommand_UnknownCommand(t *testing.T) {
	root := newTestRoot()
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"help", "nope"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestHelpCommand_OverviewGroupsCommands(t *testing.T) {
	root := newTestRoot()
	root.AddCommand(&cobra.Command{
		Use:         "talk",
		Short:       "Talk to the model",
		Annotations: map[string]string{"group": "session"},
		Run:         func(*cobra.Command, []string) {},
	})
	root.AddCommand(&cobra.Command{Use: "misc", Short: "Ungrouped", Run: func(*cobra.Command, []string) {}})

	out := runHelp(t, root)

	session := strings.Index(out, "Session:")
	catalog := strings.Index(out, "Catalog:")
	other := strings.Index(out, "Other:")
	require.NotEqual(t, -1, session)
	require.NotEqual(t, -1, catalog)
	require.NotEqual(t, -1, other)
	assert.Less(t, session, catalog)
	assert.Less(t, catalog, other)

	assert.Less(t, strings.Index(out, "talk"), catalog)
	assert.Greater(t, strings.Index(out, "misc"), other)
	assert.Contains(t, out, "Global flags:")
	assert.Contains(t, out, "--verbose")
	assert.Contains(t, out, `Use "test help <command>"`)
}

func TestHelpCommand_JSONKeepsEnvelopeCommand(t *testing.T) {
	out := runHelp(t, newTestRoot(), "sample", "--json")

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	assert.JSONEq(t, `"help sample"`, string(raw["command"]))
	assert.JSONEq(t, `"1.0"`, string(raw["@version"]))
	require.Contains(t, raw, "command_info")

	var meta CommandMetadata
	require.NoError(t, json.Unmarshal(raw["command_info"], &meta))
	assert.Equal(t, "sample", meta.Name)
}
