// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across promptbuilder.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth, PadRight: terminal column aware layout
//   - FirstLine: single-line previews of multi-line content
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	preview := util.TruncateWidth(util.FirstLine(entry.Content), 60)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
