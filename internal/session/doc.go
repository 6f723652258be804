// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives a single conversation: it applies edits, runs the
// conversation against a model and keeps storage and token estimates in step.
//
// Every change goes through conversation.Reduce under one mutex, so user
// edits, streamed deltas and token results are applied one at a time in the
// order they arrive. Persistence and token counting are debounced: a burst of
// edits produces one save once the burst settles, and one estimate per entry.
//
// # Key Types
//
//   - Session: owns the state for one conversation key
//   - Store, Runner: collaborators for persistence and streaming
//   - Event: notification delivered to the Listener after each change
//
// # Usage
//
//	s, err := session.Open(ctx, "demo", store, runner, estimator, session.Options{})
//	if err != nil {
//	    return err
//	}
//	defer s.Close(context.Background())
//
//	s.Patch(0, conversation.Fields{Content: &text})
//	if err := s.Run(ctx); err != nil {
//	    log.Printf("run failed: %v", err)
//	}
package session
