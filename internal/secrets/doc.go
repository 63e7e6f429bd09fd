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
Package secrets resolves the model API key.

Keys are looked up through a priority-ordered chain of backends:

	env      - ANTHROPIC_API_KEY
	config   - model.api_key from the configuration file
	keychain - the OS keychain (macOS Keychain, Linux Secret Service,
	           Windows Credential Manager), service "ensemble"

Only the keychain is writable:

	r := secrets.NewResolver(secrets.NewEnvBackend(), secrets.NewKeychainBackend())
	err := r.Set(ctx, secrets.APIKeyName, key, "keychain")
*/
package secrets
