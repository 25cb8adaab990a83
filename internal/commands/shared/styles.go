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
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	StatusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	Muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	Header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
)

func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

func RenderWarn(msg string) string {
	return StatusWarn.Render(SymbolWarn) + " " + msg
}

func RenderError(msg string) string {
	return StatusError.Render(SymbolError) + " " + msg
}

// PrintField writes an aligned "label: value" line, value omitted as "-"
// when empty.
func PrintField(w io.Writer, label, value string) {
	if value == "" {
		value = Muted.Render("-")
	}
	fmt.Fprintf(w, "  %s %s\n", Muted.Render(fmt.Sprintf("%-18s", label+":")), value)
}

// FormTheme is the huh theme used by interactive prompts.
func FormTheme() *huh.Theme {
	t := huh.ThemeCharm()

	t.Focused.Base = lipgloss.NewStyle()
	t.Focused.Title = Header
	t.Focused.Description = Muted
	t.Focused.ErrorIndicator = StatusError.Bold(true)
	t.Focused.ErrorMessage = StatusError
	t.Focused.SelectSelector = Header
	t.Focused.SelectedOption = StatusOK

	t.Blurred.Base = lipgloss.NewStyle()
	t.Blurred.Title = Muted
	t.Blurred.Description = Muted

	return t
}

// NewForm creates a form with FormTheme applied.
func NewForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithTheme(FormTheme())
}
