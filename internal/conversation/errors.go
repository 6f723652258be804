// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import "errors"

// Validation errors.
var (
	ErrMissingName  = errors.New("conversation name is required")
	ErrMissingModel = errors.New("model is required")
	ErrInvalidRole  = errors.New("invalid role, must be one of system, user, assistant")
	ErrMissingID    = errors.New("entry id is required")
)

// Transition errors returned by Reduce.
var (
	ErrIndexOutOfRange = errors.New("entry index out of range")
	ErrRunActive       = errors.New("a run is already in progress")
	ErrEntryStreaming  = errors.New("entry is receiving streamed output")
	ErrUnknownAction   = errors.New("unknown action")
)
