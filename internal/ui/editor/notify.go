// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/promptbuilder/internal/session"
)

// RefreshMsg tells the Model to re-read the session.
type RefreshMsg struct{}

// Notifier turns session events into RefreshMsgs. Bursts collapse into one
// pending refresh, so a fast stream never blocks the session on the UI.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Listen is a session listener. It never blocks.
func (n *Notifier) Listen(session.Event) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Wait returns a command that delivers the next RefreshMsg.
func (n *Notifier) Wait() tea.Cmd {
	return func() tea.Msg {
		<-n.ch
		return RefreshMsg{}
	}
}
