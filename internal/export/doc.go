// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders conversations as standalone documents.
//
// # Supported Formats
//
//   - Markdown: YAML frontmatter plus one section per entry
//   - HTML: themed page with entry text rendered from Markdown
//   - JSON: the stored record
//
// Excluded entries are left out unless Options.IncludeExcluded is set.
//
// # Usage
//
//	exp, err := export.New(export.FormatMarkdown, export.DefaultOptions())
//	path, err := export.ExportToFile(conv, key, exp, ".")
package export
