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
Package cli provides the root command for ensemble.

The command tree is:

	ensemble
	├── chat      Interactive session (the default front-end)
	├── ask       Answer one query and exit
	├── servers   Show connected servers and their catalogs
	├── read      Print a resource
	├── prompt    List or run server prompts
	├── key       Store or remove the API key in the system keychain
	├── version   Show version
	└── help      Show help

Every command inherits --verbose, --json and --config. Errors are returned
from RunE and mapped to exit codes by HandleExitError.
*/
package cli
