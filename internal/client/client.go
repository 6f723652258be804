// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client talks to a promptbuilder server over HTTP.
//
// A Client satisfies session.Store, session.Runner and tokens.Estimator, so a
// terminal session can run against a remote server exactly as it would
// against local storage and Ollama.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ollama"
	"github.com/jeranaias/promptbuilder/internal/relay"
	"github.com/jeranaias/promptbuilder/internal/server"
	"github.com/jeranaias/promptbuilder/internal/storage"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// DefaultServerURL is the address of a local server.
	DefaultServerURL = "http://127.0.0.1:3001"

	// DefaultTimeout bounds every call except the streaming run.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize bounds a non-streaming response body (16MB).
	MaxResponseSize = 16 * 1024 * 1024
)

// Sentinels matched by APIError.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrBadRequest   = errors.New("bad request")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	}
	return false
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an HTTP client for the promptbuilder API.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
}

// New creates a client for baseURL. An empty baseURL uses DefaultServerURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
	}
}

// WithToken sets the bearer token sent with every request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// WithTimeout sets the timeout of non-streaming calls.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token in use.
func (c *Client) Token() string {
	return c.token
}

// =============================================================================
// AUTH
// =============================================================================

// Login authenticates and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*server.LoginResponse, error) {
	var resp server.LoginResponse
	err := c.call(ctx, http.MethodPost, "/api/login", server.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token != "" {
		c.token = resp.Token
	}
	return &resp, nil
}

// Logout revokes the current token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, http.MethodPost, "/api/logout", nil, nil)
	c.token = ""
	return err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*server.MeResponse, error) {
	var resp server.MeResponse
	if err := c.call(ctx, http.MethodGet, "/api/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the server health report.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var resp server.HealthResponse
	if err := c.call(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// Models lists the models installed in the server's Ollama.
func (c *Client) Models(ctx context.Context) ([]ollama.ModelInfo, error) {
	var resp ollama.ListModelsResponse
	if err := c.call(ctx, http.MethodGet, "/api/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// List returns conversation summaries, newest first.
func (c *Client) List(ctx context.Context) ([]storage.Summary, error) {
	var resp server.ListResponse
	if err := c.call(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Create makes a new conversation and returns its key.
func (c *Client) Create(ctx context.Context, name, model string) (string, *conversation.Conversation, error) {
	var resp server.CreateResponse
	if err := c.call(ctx, http.MethodPost, "/api/conversations", server.CreateRequest{Name: name, Model: model}, &resp); err != nil {
		return "", nil, err
	}
	return resp.Key, resp.Conversation, nil
}

// Load implements session.Store.
func (c *Client) Load(ctx context.Context, key string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := c.call(ctx, http.MethodGet, conversationPath(key), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Save implements session.Store.
func (c *Client) Save(ctx context.Context, key string, conv *conversation.Conversation) error {
	return c.call(ctx, http.MethodPut, conversationPath(key), conv, nil)
}

// Delete removes a conversation.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.call(ctx, http.MethodDelete, conversationPath(key), nil, nil)
}

// Append adds an empty user entry on the server.
func (c *Client) Append(ctx context.Context, key string) (conversation.Entry, error) {
	var entry conversation.Entry
	err := c.call(ctx, http.MethodPost, conversationPath(key)+"/entries", nil, &entry)
	return entry, err
}

func conversationPath(key string) string {
	return "/api/conversations/" + url.PathEscape(key)
}

// =============================================================================
// RUN AND TOKENS
// =============================================================================

// Open implements session.Runner. It returns the relayed NDJSON body once
// the server has accepted the run.
func (c *Client) Open(ctx context.Context, key, model string, messages []conversation.Message) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/run/"+url.PathEscape(key), relay.RunRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, apiError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// Estimate implements tokens.Estimator.
func (c *Client) Estimate(ctx context.Context, model, text string) (int, error) {
	var resp server.TokensResponse
	if err := c.call(ctx, http.MethodPost, "/api/tokens", server.TokensRequest{Model: model, Text: text}, &resp); err != nil {
		return 0, err
	}
	return resp.Tokens, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// call performs a JSON request. out may be nil when no body is expected.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return &APIError{Status: status, Message: e.Error}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}
