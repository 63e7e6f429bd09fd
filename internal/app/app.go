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

// Package app builds the running system from a configuration: sessions,
// registry, resolver, dispatcher, model provider and engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tombee/ensemble/internal/config"
	"github.com/tombee/ensemble/internal/engine"
	"github.com/tombee/ensemble/internal/log"
	"github.com/tombee/ensemble/internal/mcp"
	"github.com/tombee/ensemble/internal/metrics"
	"github.com/tombee/ensemble/internal/registry"
	"github.com/tombee/ensemble/internal/secrets"
	"github.com/tombee/ensemble/internal/tracing"
	"github.com/tombee/ensemble/pkg/llm"
	"github.com/tombee/ensemble/pkg/llm/providers"
)

// shutdownTimeout bounds span flushing on Close.
const shutdownTimeout = 5 * time.Second

// Options configures Start.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Version is reported in trace resources.
	Version string

	// WithModel builds the provider and engine. Commands that only touch
	// servers leave it off and need no API key.
	WithModel bool

	// Observer receives engine progress.
	Observer engine.Observer

	// Connector replaces mcp.Connect, for tests.
	Connector mcp.Connector

	// Provider replaces the configured model provider, for tests.
	Provider llm.Provider
}

// App is the running system.
type App struct {
	Config     *config.Config
	Manager    *mcp.Manager
	Registry   *registry.Registry
	Resolver   *registry.Resolver
	Dispatcher *registry.Dispatcher
	Prompts    *registry.PromptRunner

	// Engine is nil unless Options.WithModel was set.
	Engine *engine.Engine

	// Summaries are per connected server, in configuration order.
	Summaries []registry.ServerSummary

	logger      *slog.Logger
	tracer      *tracing.Provider
	traceOut    *os.File
	stopMetrics context.CancelFunc
	metricsDone chan struct{}
}

// Start connects every enabled server, registers their capabilities and,
// when asked, builds the engine. A server that fails to connect is logged
// and skipped. On error everything already opened is released.
func Start(ctx context.Context, opts Options) (_ *App, err error) {
	if opts.Config == nil {
		return nil, errors.New("app: config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, logger: log.WithComponent(logger, "app")}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.startTracing(opts.Version); err != nil {
		return nil, err
	}
	if err := a.startMetrics(); err != nil {
		return nil, err
	}

	a.Manager = mcp.NewManager(mcp.ManagerConfig{Logger: logger, Connector: opts.Connector})
	servers := cfg.EnabledServers()
	a.Manager.ConnectAll(ctx, servers)
	for _, f := range a.Manager.Failures() {
		a.logger.Warn("server unavailable", slog.String(log.ServerKey, f.Name), log.Error(f.Err))
	}

	a.Registry = registry.New(registry.Config{Logger: logger})
	for _, s := range a.Manager.Sessions() {
		a.Summaries = append(a.Summaries, a.Registry.Absorb(ctx, s))
	}
	for _, sh := range a.Registry.Shadowed() {
		a.logger.Warn("name shadowed", slog.String("detail", sh.String()))
	}

	a.Resolver = registry.NewResolver(a.Registry, logger)
	a.Dispatcher = registry.NewDispatcher(a.Registry, logger)
	a.Prompts = registry.NewPromptRunner(a.Registry, logger)

	a.logger.Debug("servers ready",
		slog.Int("configured", len(servers)),
		slog.Int("connected", len(a.Manager.Sessions())),
		slog.Int("tools", len(a.Registry.AllTools())))

	if !opts.WithModel {
		return a, nil
	}

	provider := opts.Provider
	if provider == nil {
		provider, err = newProvider(ctx, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
	}

	a.Engine, err = engine.New(engine.Config{
		Provider:     provider,
		Dispatcher:   a.Dispatcher,
		Tools:        a.Registry,
		Model:        cfg.Model.Name,
		MaxTokens:    cfg.Model.MaxTokens,
		MaxSteps:     cfg.Engine.MaxSteps,
		SystemPrompt: cfg.Engine.SystemPrompt,
		Observer:     opts.Observer,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newProvider builds the Anthropic provider wrapped with retries and, when
// configured, a rate limit.
func newProvider(ctx context.Context, mc config.ModelConfig, logger *slog.Logger) (llm.Provider, error) {
	key, source, err := secrets.APIKey(ctx, mc.APIKey)
	if err != nil {
		return nil, err
	}
	logger.Debug("api key resolved",
		slog.String("source", source),
		slog.String("key", log.SanitizeAPIKey(key)))

	anthropic, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:    key,
		BaseURL:   mc.BaseURL,
		Model:     mc.Name,
		MaxTokens: mc.MaxTokens,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	retryCfg := llm.DefaultRetryConfig()
	retryCfg.MaxRetries = mc.MaxRetries
	retryCfg.Logger = logger

	var p llm.Provider = llm.NewRetryableProvider(anthropic, retryCfg)
	return llm.NewRateLimitedProvider(p, mc.RequestsPerSecond, 1), nil
}

func (a *App) startTracing(version string) error {
	tc := a.Config.Tracing
	if !tc.Enabled {
		return nil
	}
	tcfg := tracing.Config{Enabled: true, ServiceName: "ensemble", ServiceVersion: version}
	if tc.Output != "" {
		f, err := os.OpenFile(tc.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open trace output: %w", err)
		}
		tcfg.Output = f
		a.traceOut = f
	}
	p, err := tracing.Setup(tcfg)
	if err != nil {
		return err
	}
	a.tracer = p
	return nil
}

func (a *App) startMetrics() error {
	addr := a.Config.Metrics.Addr
	if addr == "" {
		return nil
	}
	srv, err := metrics.Listen(addr, a.logger)
	if err != nil {
		return fmt.Errorf("metrics listener on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopMetrics = cancel
	a.metricsDone = make(chan struct{})
	go func() {
		defer close(a.metricsDone)
		if err := srv.Serve(ctx); err != nil {
			a.logger.Warn("metrics server stopped", log.Error(err))
		}
	}()
	return nil
}

// Close releases every session in reverse connection order, then stops
// the metrics endpoint and flushes spans. It reports every failure.
func (a *App) Close() error {
	var errs []error
	if a.Manager != nil {
		if err := a.Manager.CloseAll(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.stopMetrics != nil {
		a.stopMetrics()
		<-a.metricsDone
		a.stopMetrics = nil
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush spans: %w", err))
		}
		a.tracer = nil
	}
	if a.traceOut != nil {
		_ = a.traceOut.Close()
		a.traceOut = nil
	}
	return errors.Join(errs...)
}
