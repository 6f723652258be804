// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package editor is the terminal conversation editor.
//
// The Model is a Bubble Tea program over a reconciler session. Every edit
// goes through the session, which owns the conversation; the Model only
// keeps a snapshot for drawing and refreshes it when the session reports a
// change through a Notifier.
//
// # Key Bindings
//
//	j/k        select next/previous entry
//	J/K        move the selected entry down/up
//	a          append an entry and edit it
//	d          delete the selected entry
//	space      include/exclude from the next run
//	r          cycle role (system, user, assistant)
//	enter      edit content (esc to finish)
//	m          change model
//	ctrl+r     run the conversation
//	esc        cancel a running request
//	y          copy the selected entry
//	q          flush pending saves and quit
package editor
