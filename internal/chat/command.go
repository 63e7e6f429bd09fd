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

// Package chat is the interactive front-end: it parses user input into
// commands and runs them against the engine and the connected servers.
package chat

import (
	"strings"
)

// Kind classifies a line of user input.
type Kind int

const (
	// KindEmpty is a blank line.
	KindEmpty Kind = iota
	// KindQuery is free text for the model.
	KindQuery
	// KindResource is "@name" or "@scheme://path".
	KindResource
	// KindListPrompts is "/prompts".
	KindListPrompts
	// KindPrompt is "/prompt name k=v ...".
	KindPrompt
	// KindClear starts a new conversation.
	KindClear
	// KindHelp lists the commands.
	KindHelp
	// KindQuit ends the session.
	KindQuit
	// KindInvalid is a malformed command; Usage says why.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindQuery:
		return "query"
	case KindResource:
		return "resource"
	case KindListPrompts:
		return "list-prompts"
	case KindPrompt:
		return "prompt"
	case KindClear:
		return "clear"
	case KindHelp:
		return "help"
	case KindQuit:
		return "quit"
	default:
		return "invalid"
	}
}

// Command is one parsed line of input.
type Command struct {
	Kind Kind

	// Text is the query for KindQuery.
	Text string

	// Resource is the name or URI after "@".
	Resource string

	// Prompt and Args are set for KindPrompt. Values stay strings.
	Prompt string
	Args   map[string]string

	// Usage explains a KindInvalid command.
	Usage string
}

const promptUsage = "Usage: /prompt <name> <arg1=value1> <arg2=value2>"

// Parse classifies a line of input. Surrounding whitespace is ignored and
// the session commands are case-insensitive.
func Parse(line string) Command {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Kind: KindEmpty}
	}

	switch strings.ToLower(line) {
	case "quit", "exit":
		return Command{Kind: KindQuit}
	case "clear":
		return Command{Kind: KindClear}
	case "help":
		return Command{Kind: KindHelp}
	}

	if strings.HasPrefix(line, "@") {
		name := strings.TrimSpace(line[1:])
		if name == "" || strings.ContainsAny(name, " \t") {
			return Command{Kind: KindInvalid, Usage: "Usage: @<name> or @<scheme>://<path>"}
		}
		return Command{Kind: KindResource, Resource: name}
	}

	if strings.HasPrefix(line, "/") {
		return parseSlash(line)
	}

	return Command{Kind: KindQuery, Text: line}
}

func parseSlash(line string) Command {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/prompts":
		if len(fields) > 1 {
			return Command{Kind: KindInvalid, Usage: "Usage: /prompts"}
		}
		return Command{Kind: KindListPrompts}

	case "/prompt":
		if len(fields) < 2 {
			return Command{Kind: KindInvalid, Usage: promptUsage}
		}
		args := make(map[string]string, len(fields)-2)
		for _, pair := range fields[2:] {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				return Command{Kind: KindInvalid, Usage: "argument " + pair + " is not key=value\n" + promptUsage}
			}
			args[key] = value
		}
		return Command{Kind: KindPrompt, Prompt: fields[1], Args: args}

	case "/help":
		return Command{Kind: KindHelp}
	case "/clear":
		return Command{Kind: KindClear}
	case "/quit", "/exit":
		return Command{Kind: KindQuit}
	}

	return Command{Kind: KindInvalid, Usage: "Unknown command: " + fields[0] + " (type help for a list)"}
}

// ResourceURI expands the resource shorthand: "@name" becomes
// "<scheme>://name" and a full URI passes through.
func (c Command) ResourceURI(scheme string) string {
	if strings.Contains(c.Resource, "://") {
		return c.Resource
	}
	return scheme + "://" + c.Resource
}
