// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling for the promptbuilder editor.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection. Each role has its own accent:

	system    - Amber
	user      - Cyan
	assistant - Purple

Every colored state also carries an ASCII marker from StatusIndicators so
the editor stays usable with --no-color.

	theme := styles.NewTheme()
	badge := theme.Role(entry.Role).Render(entry.Role.String())
*/
package styles
