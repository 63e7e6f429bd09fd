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

package version

import (
	"fmt"
	"runtime"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
	"github.com/tombee/ensemble/internal/commands/shared"
)

// VersionInfo contains version metadata
type VersionInfo struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	BuildDate       string `json:"build_date"`
	ProtocolVersion string `json:"mcp_protocol_version"`
	GoVersion       string `json:"go_version"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the ensemble version, build details and the MCP protocol revision it speaks.`,
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	v, c, b := shared.GetVersion()
	info := VersionInfo{
		Version:         v,
		Commit:          c,
		BuildDate:       b,
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		GoVersion:       runtime.Version(),
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			VersionInfo
		}{shared.NewJSONResponse("version"), info})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ensemble version %s\n", info.Version)
	fmt.Fprintln(out, shared.Muted.Render("  commit:       "+info.Commit))
	fmt.Fprintln(out, shared.Muted.Render("  build date:   "+info.BuildDate))
	fmt.Fprintln(out, shared.Muted.Render("  mcp protocol: "+info.ProtocolVersion))
	fmt.Fprintln(out, shared.Muted.Render("  go:           "+info.GoVersion))
	return nil
}
