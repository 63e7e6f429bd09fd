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
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://ensemble.local/config.schema.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func configSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("add config schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// validateDocument checks a decoded YAML document against the embedded
// schema. The document is round-tripped through JSON so numbers reach the
// validator as json.Number.
func validateDocument(doc interface{}) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var inst interface{}
	if err := dec.Decode(&inst); err != nil {
		return fmt.Errorf("decode config for validation: %w", err)
	}

	if err := schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return schemaViolation(ve)
		}
		return err
	}
	return nil
}

// schemaViolation reduces a validation error tree to its first leaf,
// which names the offending field.
func schemaViolation(ve *jsonschema.ValidationError) error {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	location := strings.TrimPrefix(leaf.InstanceLocation, "/")
	location = strings.ReplaceAll(location, "/", ".")
	if location == "" {
		location = "(root)"
	}
	return fmt.Errorf("%s: %s", location, leaf.Message)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Model.Provider != ProviderAnthropic {
		errs = append(errs, fmt.Sprintf("model.provider must be %q, got %q", ProviderAnthropic, c.Model.Provider))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, fmt.Sprintf("model.max_tokens must be positive, got %d", c.Model.MaxTokens))
	}
	if c.Model.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("model.requests_per_second must not be negative, got %v", c.Model.RequestsPerSecond))
	}
	if c.Model.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("model.max_retries must not be negative, got %d", c.Model.MaxRetries))
	}
	if c.Engine.MaxSteps <= 0 {
		errs = append(errs, fmt.Sprintf("engine.max_steps must be positive, got %d", c.Engine.MaxSteps))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("server %q is defined more than once", s.Name))
			continue
		}
		seen[s.Name] = true
		if err := s.ServerConfig.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
