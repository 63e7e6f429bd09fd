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

package mcp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/ensemble/internal/mcp"
	mcptest "github.com/tombee/ensemble/internal/mcp/testing"
)

func configs(names ...string) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, len(names))
	for i, n := range names {
		out[i] = mcp.ServerConfig{Name: n, Command: "uv"}
	}
	return out
}

func TestManager_ConnectAll_RecordsFailures(t *testing.T) {
	research := mcptest.NewMockSession("research")
	fetch := mcptest.NewMockSession("fetch")

	mgr := mcp.NewManager(mcp.ManagerConfig{
		Connector: mcptest.Connector(
			[]*mcptest.MockSession{research, fetch},
			map[string]error{"filesystem": errors.New("npx: not found")},
		),
	})

	results := mgr.ConnectAll(context.Background(), configs("filesystem", "research", "fetch"))
	require.Len(t, results, 3)

	assert.Equal(t, "filesystem", results[0].Name)
	assert.True(t, mcp.HasCode(results[0].Err, mcp.ErrorCodeConnection))
	assert.NoError(t, results[1].Err)
	assert.NoError(t, results[2].Err)

	sessions := mgr.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "research", sessions[0].ServerName())
	assert.Equal(t, "fetch", sessions[1].ServerName())

	failures := mgr.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "filesystem", failures[0].Name)

	_, ok := mgr.Session("filesystem")
	assert.False(t, ok)
	s, ok := mgr.Session("fetch")
	require.True(t, ok)
	assert.Same(t, fetch, s)
}

func TestManager_ConnectAll_WrapsPlainErrors(t *testing.T) {
	mgr := mcp.NewManager(mcp.ManagerConfig{
		Connector: func(ctx context.Context, cfg mcp.ServerConfig) (mcp.Session, error) {
			return nil, errors.New("handshake refused")
		},
	})

	results := mgr.ConnectAll(context.Background(), configs("research"))
	require.Len(t, results, 1)
	assert.True(t, mcp.HasCode(results[0].Err, mcp.ErrorCodeConnection))
	assert.Empty(t, mgr.Sessions())
}

func TestManager_ConnectAll_NilSession(t *testing.T) {
	mgr := mcp.NewManager(mcp.ManagerConfig{
		Connector: func(ctx context.Context, cfg mcp.ServerConfig) (mcp.Session, error) {
			return nil, nil
		},
	})

	results := mgr.ConnectAll(context.Background(), configs("research"))
	assert.Error(t, results[0].Err)
	assert.Empty(t, mgr.Sessions())
}

// closeRecorder wraps a mock session to record close order.
type closeRecorder struct {
	*mcptest.MockSession
	order *[]string
}

func (c closeRecorder) Close() error {
	*c.order = append(*c.order, c.ServerName())
	return c.MockSession.Close()
}

func TestManager_CloseAll_ReverseOrder(t *testing.T) {
	var order []string
	sessions := map[string]mcp.Session{}
	for _, n := range []string{"a", "b", "c"} {
		sessions[n] = closeRecorder{MockSession: mcptest.NewMockSession(n), order: &order}
	}

	mgr := mcp.NewManager(mcp.ManagerConfig{
		Connector: func(ctx context.Context, cfg mcp.ServerConfig) (mcp.Session, error) {
			return sessions[cfg.Name], nil
		},
	})
	mgr.ConnectAll(context.Background(), configs("a", "b", "c"))

	require.NoError(t, mgr.CloseAll())
	assert.Equal(t, []string{"c", "b", "a"}, order)

	// second call has nothing left to close
	require.NoError(t, mgr.CloseAll())
	assert.Len(t, order, 3)
}

func TestManager_CloseAll_ContinuesAfterError(t *testing.T) {
	a := mcptest.NewMockSession("a")
	b := mcptest.NewMockSession("b")
	b.SetCloseError(errors.New("broken pipe"))

	mgr := mcp.NewManager(mcp.ManagerConfig{
		Connector: mcptest.Connector([]*mcptest.MockSession{a, b}, nil),
	})
	mgr.ConnectAll(context.Background(), configs("a", "b"))

	err := mgr.CloseAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: broken pipe")
	assert.Equal(t, 1, a.CloseCount())
	assert.Equal(t, 1, b.CloseCount())
}
