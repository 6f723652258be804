// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/jeranaias/promptbuilder/internal/conversation"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page. Entry text
// is rendered as Markdown; raw HTML in entries is dropped.
type HTMLExporter struct {
	options *Options
	md      goldmark.Markdown
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Theme != "light" {
		opts.Theme = "dark"
	}
	return &HTMLExporter{
		options: opts,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

// Export converts a conversation to HTML format.
func (e *HTMLExporter) Export(conv *conversation.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}
	entries := visible(conv, e.options)
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", html.EscapeString(conv.Name))
	sb.WriteString("    <meta name=\"generator\" content=\"promptbuilder\">\n")
	fmt.Fprintf(&sb, "    <meta name=\"date\" content=\"%s\">\n", conv.CreatedAt.Format(time.RFC3339))
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", e.options.Theme)
	sb.WriteString("    <div class=\"container\">\n")

	sb.WriteString("        <header class=\"header\">\n")
	fmt.Fprintf(&sb, "            <h1>%s</h1>\n", html.EscapeString(conv.Name))
	if e.options.IncludeMetadata {
		sb.WriteString("            <div class=\"metadata\">\n")
		fmt.Fprintf(&sb, "                <span><strong>Model:</strong> %s</span>\n", html.EscapeString(conv.Model))
		fmt.Fprintf(&sb, "                <span><strong>Created:</strong> %s</span>\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "                <span><strong>Included tokens:</strong> %d</span>\n", conv.TotalTokens())
		sb.WriteString("                <button class=\"theme-toggle\" onclick=\"toggleTheme()\">[Theme]</button>\n")
		sb.WriteString("            </div>\n")
	}
	sb.WriteString("        </header>\n")

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, entry := range entries {
		msg, err := e.renderEntry(entry)
		if err != nil {
			return nil, err
		}
		sb.WriteString(msg)
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	fmt.Fprintf(&sb, "            <p>Exported from <strong>promptbuilder</strong> on %s</p>\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString(script)
	sb.WriteString("</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

func (e *HTMLExporter) renderEntry(entry conversation.Entry) (string, error) {
	class := "message " + entry.Role.String() + "-message"
	if !entry.IncludeInQuery {
		class += " excluded"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "            <div class=\"%s\">\n", class)
	sb.WriteString("                <div class=\"message-header\">\n")
	fmt.Fprintf(&sb, "                    <span class=\"role-label\">%s</span>\n", roleLabel(entry.Role))
	if !entry.IncludeInQuery {
		sb.WriteString("                    <span class=\"tag\">excluded</span>\n")
	}
	if entry.HasTokens() && e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "                    <span class=\"tokens\">%d tokens</span>\n", entry.TokenCount())
	}
	sb.WriteString("                </div>\n")

	sb.WriteString("                <div class=\"message-content\">\n")
	if strings.TrimSpace(entry.Content) == "" {
		sb.WriteString("<p class=\"empty\">(empty)</p>\n")
	} else {
		var buf bytes.Buffer
		if err := e.md.Convert([]byte(entry.Content), &buf); err != nil {
			return "", fmt.Errorf("render entry %s: %w", entry.ID, err)
		}
		sb.Write(buf.Bytes())
	}
	sb.WriteString("                </div>\n")
	sb.WriteString("            </div>\n")
	return sb.String(), nil
}

// =============================================================================
// EMBEDDED ASSETS
// =============================================================================

const css = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Source Code Pro", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --bg-tertiary: #414868;
            --text-primary: #c0caf5;
            --text-muted: #565f89;
            --system-bg: #2a2438;
            --user-bg: #1f2335;
            --assistant-bg: #24283b;
            --code-bg: #16161e;
            --accent: #7aa2f7;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f7f8fa;
            --bg-tertiary: #e1e4e8;
            --text-primary: #24292e;
            --text-muted: #6a737d;
            --system-bg: #fff8e6;
            --user-bg: #f6f8fa;
            --assistant-bg: #ffffff;
            --code-bg: #f0f2f4;
            --accent: #0366d6;
        }

        body {
            font-family: var(--font-sans);
            line-height: 1.6;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
        }

        .container { max-width: 900px; margin: 0 auto; background: var(--bg-secondary); border-radius: 12px; overflow: hidden; }
        .header { padding: 32px; background: var(--bg-tertiary); }
        .header h1 { font-size: 28px; margin-bottom: 12px; }
        .metadata { display: flex; flex-wrap: wrap; gap: 16px; font-size: 14px; align-items: center; }
        .theme-toggle { margin-left: auto; background: none; border: 1px solid var(--text-muted); color: var(--text-primary); border-radius: 6px; padding: 2px 8px; cursor: pointer; }

        .conversation { padding: 24px; display: flex; flex-direction: column; gap: 16px; }
        .message { padding: 16px 20px; border-radius: 8px; border-left: 4px solid var(--accent); }
        .system-message { background: var(--system-bg); }
        .user-message { background: var(--user-bg); }
        .assistant-message { background: var(--assistant-bg); }
        .excluded { opacity: 0.5; }
        .message-header { display: flex; gap: 12px; font-size: 13px; margin-bottom: 8px; color: var(--text-muted); }
        .role-label { font-weight: 700; color: var(--accent); }
        .message-content p { margin-bottom: 8px; }
        .message-content pre { background: var(--code-bg); padding: 12px; border-radius: 6px; overflow-x: auto; }
        .message-content code { font-family: var(--font-mono); font-size: 14px; }
        .empty { color: var(--text-muted); font-style: italic; }
        .footer { padding: 16px 32px; font-size: 13px; color: var(--text-muted); }
    </style>
`

const script = `    <script>
        function toggleTheme() {
            const body = document.body;
            const next = body.classList.contains('dark-theme') ? 'light' : 'dark';
            body.classList.remove('dark-theme', 'light-theme');
            body.classList.add(next + '-theme');
            localStorage.setItem('theme', next);
        }
        document.addEventListener('DOMContentLoaded', function() {
            const saved = localStorage.getItem('theme');
            if (saved) {
                document.body.classList.remove('dark-theme', 'light-theme');
                document.body.classList.add(saved + '-theme');
            }
        });
    </script>
`
