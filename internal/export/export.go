// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/util"
)

// ErrEmpty is returned when there are no entries to export.
var ErrEmpty = errors.New("conversation has no entries to export")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a conversation into a document.
type Exporter interface {
	// Export renders conv in the target format.
	Export(conv *conversation.Conversation) ([]byte, error)

	// FileExtension returns the extension including the dot (".md").
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// Format names an output format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or its usual file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported export format: %q (use markdown, html or json)", s)
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds model, dates and token totals.
	IncludeMetadata bool

	// IncludeExcluded keeps entries left out of the query. They are marked
	// as excluded in Markdown and HTML.
	IncludeExcluded bool

	// Theme for HTML export ("light" or "dark").
	Theme string

	// Now stamps the export; zero means time.Now.
	Now time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata: true,
		Theme:           "dark",
	}
}

func (o *Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// New returns the exporter for format.
func New(format Format, opts *Options) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	case FormatHTML:
		return NewHTMLExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	}
	return nil, fmt.Errorf("unsupported export format: %q", format)
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile renders conv and writes it into dir as <key><ext>.
// Returns the output file path.
func ExportToFile(conv *conversation.Conversation, key string, exporter Exporter, dir string) (string, error) {
	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	if dir == "" {
		dir = "."
	}
	name := key
	if name == "" {
		name = sanitizeFilename(conv.Name)
	}
	path := filepath.Join(dir, name+exporter.FileExtension())
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// visible returns the entries an export shows.
func visible(conv *conversation.Conversation, opts *Options) []conversation.Entry {
	if opts.IncludeExcluded {
		return conv.Entries
	}
	out := make([]conversation.Entry, 0, len(conv.Entries))
	for _, e := range conv.Entries {
		if e.IncludeInQuery {
			out = append(out, e)
		}
	}
	return out
}

func validate(conv *conversation.Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	if conv.CreatedAt.IsZero() {
		return fmt.Errorf("conversation has invalid creation timestamp")
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	if runes := []rune(s); len(runes) > maxLen {
		s = string(runes[:maxLen])
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "conversation"
	}
	return b.String()
}

// OpenFile opens a file in the default application for the OS.
func OpenFile(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

func roleLabel(role conversation.Role) string {
	switch role {
	case conversation.RoleSystem:
		return "System"
	case conversation.RoleAssistant:
		return "Assistant"
	default:
		return "User"
	}
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
