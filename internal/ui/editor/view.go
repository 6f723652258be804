// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ui/styles"
	"github.com/jeranaias/promptbuilder/internal/util"
)

// View renders the editor.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	switch m.mode {
	case modeEditEntry:
		b.WriteString(m.theme.EditorBox.Render(m.textarea.View()))
		b.WriteString("\n")
	case modeEditModel:
		b.WriteString(m.modelInput.View())
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderHeader() string {
	conv := m.state.Conversation
	title := m.theme.HeaderTitle.Render(util.TruncateWidth(conv.Name, max(m.width/2, 8)))
	meta := m.theme.HeaderMeta.Render(fmt.Sprintf("  %s  |  %d entries  |  %d tokens",
		conv.Model, len(conv.Entries), m.total))
	return m.theme.Header.Width(m.width).MaxHeight(1).Render(title + meta)
}

func (m Model) renderStatus() string {
	var parts []string
	switch {
	case m.running():
		parts = append(parts, m.spinner.View()+" streaming")
	case m.err != nil:
		parts = append(parts, m.theme.Error.Render(styles.StatusIndicators.Error+" "+m.err.Error()))
	case m.status.Err != nil:
		parts = append(parts, m.theme.Error.Render(styles.StatusIndicators.Error+" run failed: "+m.status.Err.Error()))
	}

	switch {
	case m.status.SaveErr != nil:
		parts = append(parts, m.theme.Error.Render("save failed: "+m.status.SaveErr.Error()))
	case m.status.Dirty:
		parts = append(parts, m.theme.Dirty.Render(styles.StatusIndicators.Dirty+" unsaved"))
	default:
		parts = append(parts, m.theme.Saved.Render(styles.StatusIndicators.Saved+" saved"))
	}

	if m.status.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d bad lines", m.status.Skipped))
	}
	if m.flash != "" {
		parts = append(parts, m.flash)
	}
	return m.theme.StatusBar.Render(strings.Join(parts, "  "))
}

// updateViewport redraws the transcript and keeps the selection visible.
func (m *Model) updateViewport() {
	content, offsets := m.renderEntries()
	m.viewport.SetContent(content)
	if len(offsets) == 0 || m.selected >= len(offsets)-1 {
		return
	}

	top, bottom := offsets[m.selected], offsets[m.selected+1]
	switch {
	case top < m.viewport.YOffset:
		m.viewport.SetYOffset(top)
	case bottom > m.viewport.YOffset+m.viewport.Height:
		m.viewport.SetYOffset(max(bottom-m.viewport.Height, top))
	}
}

// renderEntries returns the transcript and the first line of each entry,
// with a final element holding the total line count.
func (m *Model) renderEntries() (string, []int) {
	entries := m.state.Conversation.Entries
	if len(entries) == 0 {
		return m.theme.EntryEmpty.Render("  No entries. Press a to add one."), nil
	}

	width := max(m.viewport.Width-4, 10)
	offsets := make([]int, 0, len(entries)+1)
	var b strings.Builder
	line := 0
	for i, e := range entries {
		offsets = append(offsets, line)
		block := m.renderEntry(i, e, width)
		b.WriteString(block)
		b.WriteString("\n")
		line += strings.Count(block, "\n") + 1
	}
	offsets = append(offsets, line)
	return strings.TrimSuffix(b.String(), "\n"), offsets
}

func (m *Model) renderEntry(i int, e conversation.Entry, width int) string {
	streaming := m.state.IsStreaming(e.ID)

	include := styles.StatusIndicators.Excluded
	if e.IncludeInQuery {
		include = styles.StatusIndicators.Included
	}
	tokens := "? tok"
	if e.HasTokens() {
		tokens = fmt.Sprintf("%d tok", e.TokenCount())
	}
	head := fmt.Sprintf("%s %s  %s",
		include,
		m.theme.Role(e.Role).Render(e.Role.String()),
		m.theme.Tokens.Render(fmt.Sprintf("#%d  %s", i+1, tokens)))
	if streaming {
		head += "  " + m.spinner.View()
	}

	var body string
	switch {
	case e.Content == "" && !streaming:
		body = m.theme.EntryEmpty.Render("(empty)")
	case e.Role == conversation.RoleAssistant && !streaming:
		body = m.renderMarkdown(e, width)
	default:
		body = lipgloss.NewStyle().Width(width).Render(e.Content)
	}
	if !e.IncludeInQuery {
		body = m.theme.EntryExcluded.Render(body)
	}

	style := m.theme.Entry
	if i == m.selected {
		style = m.theme.EntrySelected
	}
	return style.Render(head + "\n" + body)
}

// renderMarkdown renders an assistant entry, caching by content and width.
func (m *Model) renderMarkdown(e conversation.Entry, width int) string {
	plain := lipgloss.NewStyle().Width(width).Render(e.Content)
	if !m.markdown || m.renderer == nil {
		return plain
	}
	if c, ok := m.cache[e.ID]; ok && c.content == e.Content && c.width == width {
		return c.out
	}
	out, err := m.renderer.Render(e.Content)
	if err != nil {
		return plain
	}
	out = strings.Trim(out, "\n")
	m.cache[e.ID] = rendered{content: e.Content, width: width, out: out}
	return out
}

// newRenderer builds a glamour renderer, or nil when it cannot be created.
func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(width, 20)),
	)
	if err != nil {
		return nil
	}
	return r
}
