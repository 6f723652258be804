// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jeranaias/promptbuilder/internal/auth"
	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ollama"
	"github.com/jeranaias/promptbuilder/internal/relay"
	"github.com/jeranaias/promptbuilder/internal/storage"
	"github.com/jeranaias/promptbuilder/internal/tokens"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3001"

	// DefaultMaxBodySize bounds JSON request bodies (4MB).
	DefaultMaxBodySize = 4 * 1024 * 1024

	// MaxTokenTextLength bounds the text of a token estimate request.
	MaxTokenTextLength = 1 << 20

	// upstreamProbeTimeout bounds /health and /api/models calls to Ollama.
	upstreamProbeTimeout = 5 * time.Second
)

// Version is reported by /health.
var Version = "0.1.0"

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API in front of storage, Ollama and the token estimator.
type Server struct {
	addr   string
	router *http.ServeMux
	server *http.Server

	store     storage.Store
	ollama    *ollama.Client
	estimator tokens.Estimator
	auth      *auth.Authenticator
	cors      *CORSConfig
	limiter   *RateLimiter
	maxBody   int64
	logger    *log.Logger

	routesOnce sync.Once
	mu         sync.RWMutex
}

// NewServer creates a Server. An empty addr uses DefaultAddr.
func NewServer(addr string, store storage.Store, client *ollama.Client) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if client == nil {
		client = ollama.NewClient()
	}
	var estimator tokens.Estimator
	if t, err := tokens.NewTiktoken(tokens.DefaultEncoding); err == nil {
		estimator = t
	}
	return &Server{
		addr:      addr,
		router:    http.NewServeMux(),
		store:     store,
		ollama:    client,
		estimator: estimator,
		auth:      auth.Disabled(),
		cors:      DefaultCORSConfig(),
		maxBody:   DefaultMaxBodySize,
		logger:    log.Default(),
	}
}

// WithAuth sets the authenticator.
func (s *Server) WithAuth(a *auth.Authenticator) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == nil {
		a = auth.Disabled()
	}
	s.auth = a
	return s
}

// WithEstimator replaces the token estimator.
func (s *Server) WithEstimator(e tokens.Estimator) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e != nil {
		s.estimator = e
	}
	return s
}

// WithCORS sets the CORS configuration.
func (s *Server) WithCORS(c *CORSConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cors = c
	return s
}

// WithRateLimiter enables per-IP rate limiting.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
	return s
}

// WithMaxBodySize sets the JSON body limit.
func (s *Server) WithMaxBodySize(n int64) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxBody = n
	}
	return s
}

// WithLogger sets the logger used for request and relay logs.
func (s *Server) WithLogger(l *log.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l != nil {
		s.logger = l
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("POST /api/login", s.handleLogin)
	s.router.HandleFunc("POST /api/logout", s.handleLogout)
	s.router.HandleFunc("GET /api/me", s.handleMe)

	s.router.HandleFunc("GET /api/models", s.handleModels)

	s.router.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.router.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.router.HandleFunc("GET /api/conversations/{key}", s.handleGetConversation)
	s.router.HandleFunc("PUT /api/conversations/{key}", s.handleSaveConversation)
	s.router.HandleFunc("DELETE /api/conversations/{key}", s.handleDeleteConversation)
	s.router.HandleFunc("POST /api/conversations/{key}/entries", s.handleAppendEntry)

	s.router.Handle("POST /api/run/{key}", relay.New(s.ollama, s.logger).Handler())

	s.router.HandleFunc("POST /api/tokens", s.handleTokens)
}

// Handler returns the routed API wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)

	s.mu.RLock()
	defer s.mu.RUnlock()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		CORSMiddleware(s.cors),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter))
	}
	middlewares = append(middlewares, AuthMiddleware(s.auth))

	return Chain(middlewares...)(s.router)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	OllamaStatus string `json:"ollama_status"`
	AuthEnabled  bool   `json:"auth_enabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:      "ok",
		Version:     Version,
		AuthEnabled: s.auth != nil && s.auth.Enabled(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamProbeTimeout)
	defer cancel()
	if err := s.ollama.CheckRunning(ctx); err == nil {
		health.OllamaStatus = "ok"
	} else {
		health.OllamaStatus = "unavailable"
		health.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// AUTH HANDLERS
// ============================================================================

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	User      string    `json:"user"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	User        string `json:"user,omitempty"`
	AuthEnabled bool   `json:"authEnabled"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.auth.Enabled() {
		writeJSON(w, http.StatusOK, LoginResponse{User: req.Username})
		return
	}

	token, expires, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		log.Printf("AUTH_DENIED | ip=%s user=%s reason=bad_credentials", GetClientIP(r), req.Username)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	log.Printf("AUTH_LOGIN | ip=%s user=%s", GetClientIP(r), req.Username)

	http.SetCookie(w, auth.SessionCookie(token, expires))
	writeJSON(w, http.StatusOK, LoginResponse{User: req.Username, Token: token, ExpiresAt: expires})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		s.auth.Logout(token)
	}
	http.SetCookie(w, auth.SessionCookie("", time.Time{}))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{User: user, AuthEnabled: s.auth.Enabled()})
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), upstreamProbeTimeout)
	defer cancel()

	models, err := s.ollama.ListModels(ctx)
	if err != nil {
		s.logger.Printf("MODELS_FAILED | error=%v", err)
		writeError(w, http.StatusBadGateway, "failed to reach Ollama")
		return
	}
	writeJSON(w, http.StatusOK, ollama.ListModelsResponse{Models: models})
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// CreateRequest is the body of POST /api/conversations.
type CreateRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// CreateResponse is returned with 201 Created.
type CreateResponse struct {
	Key          string                     `json:"key"`
	Conversation *conversation.Conversation `json:"conversation"`
}

// ListResponse is the body of GET /api/conversations.
type ListResponse struct {
	Conversations []storage.Summary `json:"conversations"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.writeStoreError(w, "list", "", err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Conversations: list})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	key, conv, err := s.store.Create(r.Context(), req.Name, req.Model)
	if err != nil {
		s.writeStoreError(w, "create", req.Name, err)
		return
	}
	s.logger.Printf("CONVERSATION_CREATED | key=%s model=%s", key, conv.Model)
	writeJSON(w, http.StatusCreated, CreateResponse{Key: key, Conversation: conv})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	conv, err := s.store.Load(r.Context(), key)
	if err != nil {
		s.writeStoreError(w, "load", key, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var conv conversation.Conversation
	if !s.decode(w, r, &conv) {
		return
	}
	if err := s.store.Save(r.Context(), key, &conv); err != nil {
		s.writeStoreError(w, "save", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.store.Delete(r.Context(), key); err != nil {
		s.writeStoreError(w, "delete", key, err)
		return
	}
	s.logger.Printf("CONVERSATION_DELETED | key=%s", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendEntry(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	entry, err := s.store.Append(r.Context(), key)
	if err != nil {
		s.writeStoreError(w, "append", key, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// writeStoreError maps storage and validation errors to status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, op, key string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, conversation.ErrMissingName),
		errors.Is(err, conversation.ErrMissingModel),
		errors.Is(err, conversation.ErrInvalidRole),
		errors.Is(err, conversation.ErrMissingID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Printf("STORAGE_ERROR | op=%s key=%s error=%v", op, key, err)
		writeError(w, http.StatusInternalServerError, "storage error")
	}
}

// ============================================================================
// TOKENS HANDLER
// ============================================================================

// TokensRequest is the body of POST /api/tokens.
type TokensRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// TokensResponse is the estimate for a TokensRequest.
type TokensResponse struct {
	Tokens int `json:"tokens"`
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	var req TokensRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.estimator == nil {
		writeError(w, http.StatusServiceUnavailable, "token estimator unavailable")
		return
	}
	if len(req.Text) > MaxTokenTextLength {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("text exceeds maximum length of %d bytes", MaxTokenTextLength))
		return
	}
	n, err := s.estimator.Estimate(r.Context(), req.Model, req.Text)
	if err != nil {
		s.logger.Printf("TOKENS_FAILED | model=%s error=%v", req.Model, err)
		writeError(w, http.StatusInternalServerError, "token estimate failed")
		return
	}
	writeJSON(w, http.StatusOK, TokensResponse{Tokens: n})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Runs stream for as long as the model generates.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Printf("SERVER_START | addr=%s version=%s ollama=%s auth=%t", s.addr, Version, s.ollama.BaseURL(), s.auth.Enabled())
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a size-limited JSON body into v. On failure it writes the
// error response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds maximum size of %d bytes", s.maxBody))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request format")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
