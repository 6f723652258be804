// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "github.com/jeranaias/promptbuilder/internal/conversation"

// EventType identifies what changed.
type EventType int

const (
	// EventChanged follows a structural edit.
	EventChanged EventType = iota
	// EventRunStarted follows the placeholders being appended.
	EventRunStarted
	// EventDelta follows streamed text being applied.
	EventDelta
	// EventRunFinished follows the end of a run, successful or not.
	EventRunFinished
	// EventTokens follows a token estimate being recorded.
	EventTokens
	// EventSaved follows a successful save.
	EventSaved
	// EventSaveFailed follows a failed save; Err holds the cause.
	EventSaveFailed
)

// String returns the event name used in logs.
func (t EventType) String() string {
	switch t {
	case EventChanged:
		return "changed"
	case EventRunStarted:
		return "run_started"
	case EventDelta:
		return "delta"
	case EventRunFinished:
		return "run_finished"
	case EventTokens:
		return "tokens"
	case EventSaved:
		return "saved"
	case EventSaveFailed:
		return "save_failed"
	default:
		return "unknown"
	}
}

// Event describes one change. State is a private copy.
type Event struct {
	Type  EventType
	State conversation.State
	Delta string
	Err   error
}
