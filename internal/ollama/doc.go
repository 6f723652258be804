// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the upstream Ollama server.
//
// The client does not interpret streamed replies. OpenChatStream hands back
// the raw NDJSON body so the relay can forward it byte for byte and the
// session can decode it with package stream.
//
// # Key Types
//
//   - Client: health check, model catalog and streaming chat
//   - ClientError: categorized failure with sentinel values for errors.Is
//   - ModelInfo: one entry of the /api/tags catalog
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	body, err := client.OpenChatStream(ctx, "llama3", payload)
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
//	io.Copy(w, body)
package ollama
