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

package shared

import (
	"context"
	"log/slog"
	"os"

	"github.com/tombee/ensemble/internal/app"
	"github.com/tombee/ensemble/internal/config"
	"github.com/tombee/ensemble/internal/engine"
	"github.com/tombee/ensemble/internal/log"
)

// LoadConfig loads the configuration named by --config, or the default.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger. Environment variables win over the
// configuration file; --verbose forces debug.
func NewLogger(cfg *config.Config) *slog.Logger {
	lc := log.FromEnv()
	if os.Getenv("ENSEMBLE_DEBUG") == "" && os.Getenv("ENSEMBLE_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" {
		lc.Level = cfg.Log.Level
	}
	if os.Getenv("LOG_FORMAT") == "" {
		lc.Format = log.Format(cfg.Log.Format)
	}
	if GetVerbose() && log.ParseLevel(lc.Level) > slog.LevelDebug {
		lc.Level = "debug"
	}
	return log.New(lc)
}

// Starter starts the application for a command. Commands take one so tests
// can substitute fake servers and a scripted model.
type Starter func(ctx context.Context, withModel bool, observer engine.Observer) (*app.App, error)

// StartApp loads the configuration and starts the application. withModel
// builds the engine, which needs an API key.
func StartApp(ctx context.Context, withModel bool, observer engine.Observer) (*app.App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	v, _, _ := GetVersion()
	return app.Start(ctx, app.Options{
		Config:    cfg,
		Logger:    logger,
		Version:   v,
		WithModel: withModel,
		Observer:  observer,
	})
}
