// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/promptbuilder/internal/conversation"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown with YAML frontmatter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// frontmatter is marshalled by yaml so titles cannot inject keys.
type frontmatter struct {
	Title     string `yaml:"title"`
	Model     string `yaml:"model"`
	Date      string `yaml:"date"`
	Entries   int    `yaml:"entries"`
	Tokens    int    `yaml:"tokens,omitempty"`
	Exported  string `yaml:"exported"`
	Generator string `yaml:"generator"`
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv *conversation.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}
	entries := visible(conv, e.options)
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		fm, err := yaml.Marshal(frontmatter{
			Title:     conv.Name,
			Model:     conv.Model,
			Date:      conv.CreatedAt.Format(time.RFC3339),
			Entries:   len(entries),
			Tokens:    conv.TotalTokens(),
			Exported:  e.options.now().Format(time.RFC3339),
			Generator: "promptbuilder",
		})
		if err != nil {
			return nil, fmt.Errorf("frontmatter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(fm)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.Name))

	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "- **Model**: %s\n", conv.Model)
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "- **Included tokens**: %d\n\n", conv.TotalTokens())
	}

	for i, entry := range entries {
		heading := roleLabel(entry.Role)
		if !entry.IncludeInQuery {
			heading += " (excluded)"
		}
		if entry.HasTokens() && e.options.IncludeMetadata {
			heading += fmt.Sprintf(" <sub>%d tokens</sub>", entry.TokenCount())
		}
		fmt.Fprintf(&sb, "## %s\n\n", heading)

		content := strings.TrimSpace(entry.Content)
		if content == "" {
			content = "*(empty)*"
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")

		if i < len(entries)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	for _, c := range []string{"#", "*", "_", "[", "]"} {
		s = strings.ReplaceAll(s, c, `\`+c)
	}
	return s
}
