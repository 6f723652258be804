// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/promptbuilder/internal/conversation"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues on Windows
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// HTTPClient overrides the transport. Streaming requests never use its
	// Timeout; they are bounded by the request context only.
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://127.0.0.1:11434",
		Timeout:      30 * time.Second,
		DefaultModel: "llama3",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	// Fill in defaults for any zero values
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = def.DefaultModel
	}

	c := &Client{config: &cfg}
	if cfg.HTTPClient != nil {
		c.httpClient = cfg.HTTPClient
		stream := *cfg.HTTPClient
		stream.Timeout = 0
		c.streamClient = &stream
	} else {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
		// SECURITY: TLS not required - Ollama runs locally over HTTP
		c.streamClient = &http.Client{}
	}
	return c
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// DefaultModel returns the configured default model.
func (c *Client) DefaultModel() string {
	return c.config.DefaultModel
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if result.Models == nil {
		result.Models = []ModelInfo{}
	}

	return result.Models, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// OpenChatStream starts a streaming chat request and returns the response
// body unread. The caller must close it. Errors are only returned for
// failures before the first byte: an unreachable server, a missing model or
// a non-200 status.
func (c *Client) OpenChatStream(ctx context.Context, model string, messages []conversation.Message) (io.ReadCloser, error) {
	if model == "" {
		model = c.config.DefaultModel
	}
	if messages == nil {
		messages = []conversation.Message{}
	}

	body, err := json.Marshal(ChatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	defer drainAndClose(resp.Body)

	var ollamaErr OllamaError
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&ollamaErr)

	if resp.StatusCode == http.StatusNotFound {
		if decodeErr == nil && ollamaErr.Error != "" {
			return nil, &ClientError{Type: ErrTypeModelNotFound, Message: ollamaErr.Error}
		}
		return nil, ErrModelNotFound
	}
	if decodeErr == nil && ollamaErr.Error != "" {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: ollamaErr.Error}
	}
	return nil, &ClientError{
		Type:    ErrTypeInvalidResponse,
		Message: "stream request failed: " + resp.Status,
	}
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 1<<20))
	r.Close()
}
