// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/promptbuilder/internal/auth"
	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ollama"
	"github.com/jeranaias/promptbuilder/internal/storage"
	"github.com/jeranaias/promptbuilder/internal/tokens"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeOllama answers the three endpoints the server calls.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Ollama is running")
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[{"name":"llama3:latest","size":4700000000}]}`)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "llama3" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"model not found"}`)
			return
		}
		io.WriteString(w, `{"message":{"content":"Hi"}}`+"\n")
		w.(http.Flusher).Flush()
		io.WriteString(w, `{"message":{"content":" there"}}`+"\n"+`{"done":true}`+"\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, upstreamURL string) (*Server, http.Handler) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: upstreamURL, Timeout: 5 * time.Second})
	s := NewServer("", store, client).
		WithLogger(log.New(io.Discard, "", 0)).
		WithEstimator(tokens.Func(func(_ context.Context, _ string, text string) (int, error) {
			return len(strings.Fields(text)), nil
		}))
	return s, s.Handler()
}

func do(h http.Handler, method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mods {
		m(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %q", w.Body.String())
	}
	return body["error"]
}

// =============================================================================
// SERVER CONSTRUCTION TESTS
// =============================================================================

func TestNewServer(t *testing.T) {
	s := NewServer("", nil, nil)
	if s.Addr() != DefaultAddr {
		t.Errorf("Addr() = %q, want %q", s.Addr(), DefaultAddr)
	}
	if s.auth == nil || s.auth.Enabled() {
		t.Error("auth should default to disabled")
	}
	if s.maxBody != DefaultMaxBodySize {
		t.Errorf("maxBody = %d, want %d", s.maxBody, DefaultMaxBodySize)
	}

	s.WithAuth(nil).WithMaxBodySize(-1)
	if s.auth == nil {
		t.Error("WithAuth(nil) should keep a disabled authenticator")
	}
	if s.maxBody != DefaultMaxBodySize {
		t.Error("WithMaxBodySize should ignore non-positive values")
	}
}

// =============================================================================
// HEALTH AND MODELS TESTS
// =============================================================================

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, fakeOllama(t).URL)

	w := do(h, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var resp HealthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "ok" || resp.OllamaStatus != "ok" {
		t.Errorf("health = %+v, want ok/ok", resp)
	}
	if resp.Version != Version {
		t.Errorf("Version = %q, want %q", resp.Version, Version)
	}
}

func TestHandleHealth_Degraded(t *testing.T) {
	_, h := newTestServer(t, "http://127.0.0.1:1")

	w := do(h, "GET", "/health", nil)
	var resp HealthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "degraded" || resp.OllamaStatus != "unavailable" {
		t.Errorf("health = %+v, want degraded/unavailable", resp)
	}
}

func TestHandleModels(t *testing.T) {
	_, h := newTestServer(t, fakeOllama(t).URL)

	w := do(h, "GET", "/api/models", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var resp ollama.ListModelsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Models) != 1 || resp.Models[0].Name != "llama3:latest" {
		t.Errorf("Models = %+v, want [llama3:latest]", resp.Models)
	}
}

func TestHandleModels_UpstreamDown(t *testing.T) {
	_, h := newTestServer(t, "http://127.0.0.1:1")

	w := do(h, "GET", "/api/models", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", w.Code)
	}
	if msg := errorBody(t, w); msg != "failed to reach Ollama" {
		t.Errorf("error = %q", msg)
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversationLifecycle(t *testing.T) {
	_, h := newTestServer(t, fakeOllama(t).URL)

	w := do(h, "POST", "/api/conversations", CreateRequest{Name: "Demo", Model: "llama3"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created CreateResponse
	json.Unmarshal(w.Body.Bytes(), &created)
	if created.Key != "demo" {
		t.Errorf("Key = %q, want demo", created.Key)
	}

	w = do(h, "POST", "/api/conversations", CreateRequest{Name: "demo", Model: "llama3"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", w.Code)
	}

	w = do(h, "POST", "/api/conversations/demo/entries", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("append status = %d", w.Code)
	}
	var entry conversation.Entry
	json.Unmarshal(w.Body.Bytes(), &entry)
	if entry.Role != conversation.RoleUser || entry.Content != "" || !entry.IncludeInQuery || entry.ID == "" {
		t.Errorf("appended entry = %+v", entry)
	}

	w = do(h, "GET", "/api/conversations/demo", nil)
	var conv conversation.Conversation
	json.Unmarshal(w.Body.Bytes(), &conv)
	if len(conv.Entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1", len(conv.Entries))
	}

	conv.Entries[0].Content = "Hello"
	w = do(h, "PUT", "/api/conversations/demo", conv)
	if w.Code != http.StatusNoContent {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(h, "GET", "/api/conversations", nil)
	var list ListResponse
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Conversations) != 1 || list.Conversations[0].Entries != 1 {
		t.Errorf("list = %+v", list.Conversations)
	}

	w = do(h, "DELETE", "/api/conversations/demo", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	w = do(h, "GET", "/api/conversations/demo", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("load after delete status = %d, want 404", w.Code)
	}
}

func TestConversationValidation(t *testing.T) {
	_, h := newTestServer(t, fakeOllama(t).URL)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing name", "POST", "/api/conversations", CreateRequest{Model: "llama3"}, http.StatusBadRequest},
		{"missing model", "POST", "/api/conversations", CreateRequest{Name: "x"}, http.StatusBadRequest},
		{"bad json", "POST", "/api/conversations", "{", http.StatusBadRequest},
		{"bad key", "GET", "/api/conversations/Bad%20Key", nil, http.StatusBadRequest},
		{"unknown key", "GET", "/api/conversations/nope", nil, http.StatusNotFound},
		{"append unknown", "POST", "/api/conversations/nope/entries", nil, http.StatusNotFound},
		{"save invalid role", "PUT", "/api/conversations/x", `{"name":"x","model":"m","messages":[{"id":"1","role":"robot"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if errorBody(t, w) == "" {
				t.Error("error message should not be empty")
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	s, _ := newTestServer(t, fakeOllama(t).URL)
	h := s.WithMaxBodySize(16).Handler()

	w := do(h, "POST", "/api/conversations", CreateRequest{Name: strings.Repeat("n", 64), Model: "llama3"})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Status = %d, want 413", w.Code)
	}
}

// =============================================================================
// RUN AND TOKENS TESTS
// =============================================================================

func TestHandleRun_Relays(t *testing.T) {
	_, h := newTestServer(t, fakeOllama(t).URL)

	body := map[string]any{"model": "llama3", "messages": []conversation.Message{{Role: "user", Content: "Hello"}}}
	w := do(h, "POST", "/api/run/demo", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	want := `{"message":{"content":"Hi"}}` + "\n" + `{"message":{"content":" there"}}` + "\n" + `{"done":true}` + "\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
	if !w.Flushed {
		t.Error("relay should flush through the middleware chain")
	}
}

func TestHandleRun_UnknownModel(t *testing.T) {
	_, h := newTestServer(t, fakeOllama(t).URL)

	w := do(h, "POST", "/api/run/demo", map[string]any{"model": "missing", "messages": []any{}})
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestHandleTokens(t *testing.T) {
	_, h := newTestServer(t, fakeOllama(t).URL)

	w := do(h, "POST", "/api/tokens", TokensRequest{Model: "llama3", Text: "one two three"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	var resp TokensResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Tokens != 3 {
		t.Errorf("Tokens = %d, want 3", resp.Tokens)
	}

	w = do(h, "POST", "/api/tokens", "not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", w.Code)
	}
}

// =============================================================================
// AUTH TESTS
// =============================================================================

func authedServer(t *testing.T) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := newTestServer(t, fakeOllama(t).URL)
	return s.WithAuth(auth.NewWithUsers(auth.Users{"alice": {PasswordHash: string(hash)}}, time.Hour)).Handler()
}

func TestAuth_RequiredWhenEnabled(t *testing.T) {
	h := authedServer(t)

	if w := do(h, "GET", "/api/conversations", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}
	if w := do(h, "GET", "/health", nil); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}
	if w := do(h, "POST", "/api/login", LoginRequest{Username: "alice", Password: "nope"}); w.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", w.Code)
	}
}

func TestAuth_LoginCookieAndBearer(t *testing.T) {
	h := authedServer(t)

	w := do(h, "POST", "/api/login", LoginRequest{Username: "alice", Password: "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	var login LoginResponse
	json.Unmarshal(w.Body.Bytes(), &login)
	if login.Token == "" || login.User != "alice" {
		t.Fatalf("login = %+v", login)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.CookieName || cookies[0].Value != login.Token {
		t.Fatalf("cookies = %+v", cookies)
	}

	withCookie := func(r *http.Request) { r.AddCookie(cookies[0]) }
	withBearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+login.Token) }

	w = do(h, "GET", "/api/me", nil, withCookie)
	var me MeResponse
	json.Unmarshal(w.Body.Bytes(), &me)
	if me.User != "alice" || !me.AuthEnabled {
		t.Errorf("me = %+v", me)
	}
	if w := do(h, "GET", "/api/conversations", nil, withBearer); w.Code != http.StatusOK {
		t.Errorf("bearer status = %d, want 200", w.Code)
	}

	if w := do(h, "POST", "/api/logout", nil, withBearer); w.Code != http.StatusNoContent {
		t.Errorf("logout status = %d", w.Code)
	}
	if w := do(h, "GET", "/api/me", nil, withCookie); w.Code != http.StatusUnauthorized {
		t.Errorf("after logout status = %d, want 401", w.Code)
	}
}

func TestAuth_DisabledLogin(t *testing.T) {
	_, h := newTestServer(t, fakeOllama(t).URL)

	w := do(h, "POST", "/api/login", LoginRequest{Username: "anyone"})
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}
	w = do(h, "GET", "/api/me", nil)
	var me MeResponse
	json.Unmarshal(w.Body.Bytes(), &me)
	if me.AuthEnabled {
		t.Error("AuthEnabled should be false")
	}
}
