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

// Package key implements the key command, which manages the model API key
// in the system keychain.
package key

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/ensemble/internal/commands/shared"
	"github.com/tombee/ensemble/internal/config"
	"github.com/tombee/ensemble/internal/log"
	"github.com/tombee/ensemble/internal/secrets"
)

// StatusResponse is the JSON output of key status.
type StatusResponse struct {
	shared.JSONResponse
	Found    bool     `json:"found"`
	Source   string   `json:"source,omitempty"`
	Key      string   `json:"key,omitempty"`
	Searched []string `json:"searched,omitempty"`
}

// NewCommand creates the key command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the Anthropic API key",
		Long: `Store the Anthropic API key in the system keychain, check where the key
in use comes from, or remove it.

The key is looked up in this order:
  1. ANTHROPIC_API_KEY
  2. model.api_key in the config file
  3. The system keychain (service "ensemble")`,
		Annotations: map[string]string{"group": "setup"},
	}

	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store the API key in the system keychain",
		Long: `Store the API key in the system keychain. The key is read with hidden
input on a terminal, or from standard input when piped.`,
		Example: `  ensemble key set
  echo "$KEY" | ensemble key set`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := readKey(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			if value == "" {
				return shared.NewExecutionError("the API key cannot be empty", nil)
			}

			kc := secrets.NewKeychainBackend()
			if !kc.Available() {
				return keychainUnavailable()
			}
			if err := kc.Set(cmd.Context(), secrets.APIKeyName, value); err != nil {
				return shared.NewExecutionError("store key", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("API key stored in the system keychain"))
			if os.Getenv("ANTHROPIC_API_KEY") != "" {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn("ANTHROPIC_API_KEY is set and takes precedence"))
			}
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the API key comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp := StatusResponse{JSONResponse: shared.NewJSONResponse("key status")}

			value, source, err := secrets.APIKey(cmd.Context(), configuredKey())
			var missing *secrets.MissingAPIKeyError
			switch {
			case errors.As(err, &missing):
				resp.Searched = missing.Searched
			case err != nil:
				return err
			default:
				resp.Found = true
				resp.Source = source
				resp.Key = log.SanitizeAPIKey(value)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, resp)
			}
			if !resp.Found {
				fmt.Fprintln(out, shared.RenderWarn("No API key found (searched: "+strings.Join(resp.Searched, ", ")+")"))
				fmt.Fprintln(out, shared.Muted.Render("  "+missing.Suggestion()))
				return nil
			}
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("API key %s from %s", resp.Key, resp.Source)))
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the API key from the system keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kc := secrets.NewKeychainBackend()
			if !kc.Available() {
				return keychainUnavailable()
			}
			err := kc.Delete(cmd.Context(), secrets.APIKeyName)
			if errors.Is(err, secrets.ErrSecretNotFound) {
				return shared.NewNotFoundError("no API key is stored in the system keychain", nil)
			}
			if err != nil {
				return shared.NewExecutionError("delete key", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("API key removed from the system keychain"))
			return nil
		},
	}
}

// configuredKey returns model.api_key from the config file, if one loads.
func configuredKey() string {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return ""
	}
	return cfg.Model.APIKey
}

// readKey reads hidden input from a terminal, otherwise all of in.
func readKey(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Anthropic API key (hidden): ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func keychainUnavailable() error {
	return shared.NewExecutionError("the system keychain is not available; set ANTHROPIC_API_KEY or model.api_key instead", nil)
}
