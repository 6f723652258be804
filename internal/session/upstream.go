// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"io"

	"github.com/jeranaias/promptbuilder/internal/conversation"
)

// ChatStreamer is satisfied by the Ollama client.
type ChatStreamer interface {
	OpenChatStream(ctx context.Context, model string, messages []conversation.Message) (io.ReadCloser, error)
}

// DirectRunner runs against an upstream model server without going through
// the relay. The key is ignored.
func DirectRunner(up ChatStreamer) Runner {
	return RunnerFunc(func(ctx context.Context, _ string, model string, messages []conversation.Message) (io.ReadCloser, error) {
		return up.OpenChatStream(ctx, model, messages)
	})
}
