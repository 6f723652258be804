// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/promptbuilder/internal/conversation"
)

// Theme holds the styles used by the editor.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderMeta  lipgloss.Style

	RoleSystem    lipgloss.Style
	RoleUser      lipgloss.Style
	RoleAssistant lipgloss.Style

	Entry         lipgloss.Style
	EntrySelected lipgloss.Style
	EntryExcluded lipgloss.Style
	EntryEmpty    lipgloss.Style
	Tokens        lipgloss.Style

	StatusBar lipgloss.Style
	Saved     lipgloss.Style
	Dirty     lipgloss.Style
	Error     lipgloss.Style
	Spinner   lipgloss.Style

	EditorBox lipgloss.Style
}

// NewTheme detects the terminal's capabilities and builds a theme.
func NewTheme() *Theme {
	return NewThemeWithProfile(termenv.ColorProfile())
}

// NewThemeWithProfile builds a theme for a fixed color profile. Ascii turns
// color off.
func NewThemeWithProfile(profile termenv.Profile) *Theme {
	t := &Theme{
		ColorProfile: profile,
		IsDark:       profile != termenv.Ascii && termenv.HasDarkBackground(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.HeaderMeta = lipgloss.NewStyle().Foreground(TextSecondary)

	t.RoleSystem = lipgloss.NewStyle().Bold(true).Foreground(Amber)
	t.RoleUser = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.RoleAssistant = lipgloss.NewStyle().Bold(true).Foreground(Purple)

	t.Entry = lipgloss.NewStyle().
		Foreground(TextPrimary).
		PaddingLeft(2)
	t.EntrySelected = t.Entry.Copy().
		Border(lipgloss.ThickBorder(), false, false, false, true).
		BorderForeground(Purple).
		PaddingLeft(1)
	t.EntryExcluded = lipgloss.NewStyle().Foreground(TextMuted).Strikethrough(true)
	t.EntryEmpty = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)
	t.Tokens = lipgloss.NewStyle().Foreground(TextMuted)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Padding(0, 1)
	t.Saved = lipgloss.NewStyle().Foreground(Emerald)
	t.Dirty = lipgloss.NewStyle().Foreground(Amber)
	t.Error = lipgloss.NewStyle().Bold(true).Foreground(Rose)
	t.Spinner = lipgloss.NewStyle().Foreground(Purple)

	t.EditorBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Overlay)
}

// Role returns the badge style for r.
func (t *Theme) Role(r conversation.Role) lipgloss.Style {
	switch r {
	case conversation.RoleSystem:
		return t.RoleSystem
	case conversation.RoleAssistant:
		return t.RoleAssistant
	default:
		return t.RoleUser
	}
}
