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
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/ensemble/internal/registry"
)

var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// Muted styles secondary text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
)

// RenderOK renders a success message with a green checkmark.
func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

// RenderWarn renders a warning message.
func RenderWarn(msg string) string {
	return StatusWarn.Render(SymbolWarn) + " " + msg
}

// RenderError renders an error message.
func RenderError(msg string) string {
	return StatusError.Render("Error:") + " " + msg
}

// RenderKindState renders a capability listing outcome: the entry count
// when supported, otherwise the state name.
func RenderKindState(k registry.KindSummary) string {
	switch k.State {
	case registry.KindSupported:
		return StatusOK.Render(strconv.Itoa(k.Count))
	case registry.KindFailed:
		return StatusError.Render(string(k.State))
	default:
		return Muted.Render(string(k.State))
	}
}

// Cell pads s to width columns, ignoring any styling escapes in s.
func Cell(s string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}
