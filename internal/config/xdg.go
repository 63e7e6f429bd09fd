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

package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	appName = "ensemble"

	// LegacyConfigFile is read from the working directory when no
	// configuration exists under the XDG config home.
	LegacyConfigFile = "server_config.json"
)

// ErrNoConfig is returned when no configuration file can be found.
var ErrNoConfig = errors.New("no configuration file found")

// ConfigDir returns the ensemble directory under the XDG config home.
// It respects XDG_CONFIG_HOME.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// ConfigPath returns the full path to the XDG config file, creating its
// parent directory if needed.
func ConfigPath() (string, error) {
	return xdg.ConfigFile(filepath.Join(appName, "config.yaml"))
}

// DefaultPath locates the configuration file used when none is given:
// config.yaml in the XDG config directories, then ./server_config.json.
func DefaultPath() (string, error) {
	if path, err := xdg.SearchConfigFile(filepath.Join(appName, "config.yaml")); err == nil {
		return path, nil
	}
	if info, err := os.Stat(LegacyConfigFile); err == nil && !info.IsDir() {
		return LegacyConfigFile, nil
	}
	return "", ErrNoConfig
}
