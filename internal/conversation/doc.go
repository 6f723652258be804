// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation contains the conversation data model and the pure
// state transitions that edit it.
//
// Every change to a conversation, whether it comes from the user or from a
// streamed model reply, is expressed as an Action and applied with Reduce:
//
//	st, err := conversation.Reduce(st, conversation.Append{Entry: e})
//
// Reduce never mutates its input and performs no I/O, so sequences of edits
// can be replayed deterministically in tests without timers or a terminal.
//
// # Key Types
//
//   - Conversation: name, model, creation time and the ordered entries
//   - Entry: one transcript turn with a stable ID
//   - RunState: which entry is receiving streamed text, if any
//   - State: the conversation plus its run state
//
// Streaming deltas address their target by entry ID rather than position, so
// reordering entries mid-run cannot redirect text into the wrong turn.
package conversation
