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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/ensemble/internal/commands/shared"
)

func runVersionCmd(t *testing.T, jsonOut bool) string {
	t.Helper()
	shared.SetVersion("1.0.0", "test123", "2025-12-22")
	shared.SetFlagsForTest(false, jsonOut, "")
	t.Cleanup(func() {
		shared.SetVersion("dev", "unknown", "unknown")
		shared.SetFlagsForTest(false, false, "")
	})

	cmd := NewVersionCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestVersionOutput(t *testing.T) {
	out := runVersionCmd(t, false)
	assert.Contains(t, out, "ensemble version 1.0.0")
	assert.Contains(t, out, "test123")
	assert.Contains(t, out, mcp.LATEST_PROTOCOL_VERSION)
}

func TestVersionJSONOutput(t *testing.T) {
	out := runVersionCmd(t, true)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "version", got["command"])
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "1.0.0", got["version"])
	assert.Equal(t, "2025-12-22", got["build_date"])
	assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, got["mcp_protocol_version"])
}

func TestVersionRejectsArgs(t *testing.T) {
	cmd := NewVersionCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
