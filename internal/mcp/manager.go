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

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/ensemble/internal/metrics"
)

// ConnectResult records the outcome of connecting one configured server.
type ConnectResult struct {
	Name     string
	Session  Session
	Err      error
	Duration time.Duration
}

// Manager owns every Session for the life of the process. Connections are
// opened concurrently at startup; the resulting order is always the
// configuration order, and shutdown releases sessions in reverse.
type Manager struct {
	connector Connector
	logger    *slog.Logger

	// sessions holds connected sessions in configuration order
	sessions []Session
	results  []ConnectResult
	mu       sync.RWMutex
}

// ManagerConfig configures the MCP manager.
type ManagerConfig struct {
	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Connector opens sessions; defaults to Connect
	Connector Connector
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "mcp-manager"))

	connector := cfg.Connector
	if connector == nil {
		connector = ConnectSession(WithLogger(logger))
	}

	return &Manager{
		connector: connector,
		logger:    logger,
	}
}

// ConnectAll connects every server and waits for all of them to finish.
// A server that fails is logged and recorded; it never aborts the others.
// The returned results are in configuration order.
func (m *Manager) ConnectAll(ctx context.Context, configs []ServerConfig) []ConnectResult {
	results := make([]ConnectResult, len(configs))

	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg ServerConfig) {
			defer wg.Done()
			results[i] = m.connect(ctx, cfg)
		}(i, cfg)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		m.results = append(m.results, r)
		if r.Err == nil {
			m.sessions = append(m.sessions, r.Session)
		}
	}

	return results
}

func (m *Manager) connect(ctx context.Context, cfg ServerConfig) ConnectResult {
	start := time.Now()
	logger := m.logger.With(slog.String("server", cfg.Name))
	logger.Debug("connecting",
		slog.String("transport", string(cfg.TransportOrDefault())),
		slog.String("command", cfg.Command),
		slog.Any("args", cfg.Args),
		slog.Any("env", RedactEnv(cfg.EnvList())),
		slog.String("url", cfg.URL),
		slog.Any("headers", RedactHeaders(cfg.Headers)))

	session, err := m.connector(ctx, cfg)
	if err == nil && session == nil {
		err = ErrConnection(cfg.Name, errors.New("connector returned no session"))
	}
	elapsed := time.Since(start)

	if err != nil {
		if !IsMCPError(err) {
			err = ErrConnection(cfg.Name, err)
		}
		metrics.RecordConnection(cfg.Name, false)
		logger.Warn("failed to connect, server will be unavailable",
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return ConnectResult{Name: cfg.Name, Err: err, Duration: elapsed}
	}

	metrics.RecordConnection(cfg.Name, true)
	logger.Info("connected", slog.Duration("elapsed", elapsed))
	return ConnectResult{Name: cfg.Name, Session: session, Duration: elapsed}
}

// Sessions returns the connected sessions in configuration order.
func (m *Manager) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Session(nil), m.sessions...)
}

// Session returns the connected session with the given name.
func (m *Manager) Session(name string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.ServerName() == name {
			return s, true
		}
	}
	return nil, false
}

// Results returns every connection outcome in configuration order.
func (m *Manager) Results() []ConnectResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConnectResult(nil), m.results...)
}

// Failures returns the servers that did not connect.
func (m *Manager) Failures() []ConnectResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var failed []ConnectResult
	for _, r := range m.results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

// CloseAll closes every session in reverse connection order. Every session
// is attempted; errors are joined. Calling it again is a no-op.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	var errs []error
	for i := len(sessions) - 1; i >= 0; i-- {
		s := sessions[i]
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			m.logger.Warn("error closing session",
				slog.String("server", s.ServerName()),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", s.ServerName(), err))
			continue
		}
		m.logger.Debug("session closed", slog.String("server", s.ServerName()))
	}

	return errors.Join(errs...)
}
