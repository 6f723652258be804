// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"net"

	"github.com/jeranaias/promptbuilder/internal/client"
	"github.com/jeranaias/promptbuilder/internal/config"
	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ollama"
	"github.com/jeranaias/promptbuilder/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitNotFound     = 7
)

// UsageError marks errors caused by bad arguments.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var verrs config.ValidateErrors
	var netErr net.Error
	var opErr *net.OpError

	switch {
	case errors.As(err, &usage),
		errors.Is(err, conversation.ErrMissingName),
		errors.Is(err, conversation.ErrMissingModel),
		errors.Is(err, conversation.ErrInvalidRole),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, client.ErrBadRequest):
		return ExitUsageError
	case errors.As(err, &verrs):
		return ExitConfigError
	case errors.Is(err, client.ErrUnauthorized):
		return ExitAuthError
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, client.ErrNotFound),
		ollama.IsModelNotFound(err):
		return ExitNotFound
	case ollama.IsNotRunning(err), ollama.IsTimeout(err),
		errors.As(err, &opErr), errors.As(err, &netErr):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}
