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

/*
Package mcp manages client sessions to Model Context Protocol servers.

A Session is one live connection to one server. Client is the production
Session, built on mark3labs/mcp-go, and reaches servers over stdio
subprocesses, SSE, or streamable HTTP:

	c, err := mcp.Connect(ctx, mcp.ServerConfig{
	    Name:    "research",
	    Command: "uv",
	    Args:    []string{"run", "research_server.py"},
	})
	defer c.Close()

	tools, err := c.ListTools(ctx)

Servers advertise which capability kinds (tools, resources, prompts) they
offer during initialization. Listing a kind the server did not advertise
returns an error with code ErrorCodeCapabilityUnsupported; callers treat that
as "no entries", not as a failure.

# Startup and shutdown

Manager connects every configured server, records the ones that fail, and
keeps the rest in configuration order:

	mgr := mcp.NewManager(mcp.ManagerConfig{Logger: logger})
	mgr.ConnectAll(ctx, servers)
	defer mgr.CloseAll()

CloseAll releases sessions in reverse connection order and tolerates
sessions that are already closed.

# Errors

Every failure is an *MCPError whose Code places it in the session error
taxonomy: connection, capability query, invocation, resource, prompt.
*/
package mcp
