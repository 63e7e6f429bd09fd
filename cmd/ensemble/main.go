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

package main

import (
	"github.com/spf13/cobra"

	"github.com/tombee/ensemble/internal/cli"
	chatcmd "github.com/tombee/ensemble/internal/commands/chat"
	"github.com/tombee/ensemble/internal/commands/key"
	"github.com/tombee/ensemble/internal/commands/prompts"
	"github.com/tombee/ensemble/internal/commands/resources"
	"github.com/tombee/ensemble/internal/commands/servers"
	versioncmd "github.com/tombee/ensemble/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Session commands; a bare "ensemble" starts a chat
	chat := chatcmd.NewCommand()
	rootCmd.AddCommand(chat)
	rootCmd.AddCommand(chatcmd.NewAskCommand())
	rootCmd.Args = cobra.NoArgs
	rootCmd.RunE = chat.RunE

	// Catalog commands
	rootCmd.AddCommand(servers.NewCommand())
	rootCmd.AddCommand(resources.NewCommand())
	rootCmd.AddCommand(prompts.NewCommand())

	// Setup
	rootCmd.AddCommand(key.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
