// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/promptbuilder/internal/auth"
	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ollama"
	"github.com/jeranaias/promptbuilder/internal/server"
	"github.com/jeranaias/promptbuilder/internal/session"
	"github.com/jeranaias/promptbuilder/internal/storage"
	"github.com/jeranaias/promptbuilder/internal/tokens"
)

// Compile-time checks for the collaborator interfaces.
var (
	_ session.Store    = (*Client)(nil)
	_ session.Runner   = (*Client)(nil)
	_ tokens.Estimator = (*Client)(nil)
)

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[{"name":"llama3:latest"}]}`)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"Hi"}}`+"\n")
		w.(http.Flusher).Flush()
		io.WriteString(w, `{"message":{"content":" there"}}`+"\n"+`{"done":true}`+"\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func startServer(t *testing.T, a *auth.Authenticator) *httptest.Server {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	up := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: fakeOllama(t).URL, Timeout: 5 * time.Second})

	s := server.NewServer("", store, up).
		WithAuth(a).
		WithLogger(log.New(io.Discard, "", 0)).
		WithEstimator(tokens.Func(func(_ context.Context, _ string, text string) (int, error) {
			return len(strings.Fields(text)), nil
		}))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Conversations(t *testing.T) {
	c := New(startServer(t, nil).URL)
	ctx := context.Background()

	key, conv, err := c.Create(ctx, "Demo", "llama3")
	require.NoError(t, err)
	assert.Equal(t, "demo", key)
	assert.Equal(t, "llama3", conv.Model)

	_, _, err = c.Create(ctx, "demo", "llama3")
	assert.ErrorIs(t, err, ErrConflict)

	entry, err := c.Append(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, conversation.RoleUser, entry.Role)

	loaded, err := c.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)

	loaded.Entries[0].Content = "Hello"
	require.NoError(t, c.Save(ctx, key, loaded))

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Entries)

	require.NoError(t, c.Delete(ctx, key))
	_, err = c.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.NotEmpty(t, apiErr.Message)
}

func TestClient_ModelsAndTokens(t *testing.T) {
	c := New(startServer(t, nil).URL + "/")
	ctx := context.Background()

	models, err := c.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:latest"}, ollama.ModelNames(models))

	n, err := c.Estimate(ctx, "llama3", "a b c d")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestClient_SessionEndToEnd(t *testing.T) {
	c := New(startServer(t, nil).URL)
	ctx := context.Background()

	key, _, err := c.Create(ctx, "demo", "llama3")
	require.NoError(t, err)
	_, err = c.Append(ctx, key)
	require.NoError(t, err)

	s, err := session.Open(ctx, key, c, c, c, session.Options{SaveDelay: 10 * time.Millisecond, TokenDelay: 10 * time.Millisecond})
	require.NoError(t, err)

	text := "Hello"
	require.NoError(t, s.Patch(0, conversation.Fields{Content: &text}))
	require.NoError(t, s.Run(ctx))
	require.NoError(t, s.Close(ctx))

	st := s.Snapshot()
	assert.False(t, st.Run.Running)
	require.Len(t, st.Conversation.Entries, 3)
	assert.Equal(t, "Hi there", st.Conversation.Entries[1].Content)

	stored, err := c.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, stored.Entries, 3)
	assert.Equal(t, "Hello", stored.Entries[0].Content)
	assert.Equal(t, "Hi there", stored.Entries[1].Content)
}

func TestClient_RunRejected(t *testing.T) {
	c := New(startServer(t, nil).URL)

	_, err := c.Open(context.Background(), "demo", "", nil)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestClient_Login(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	a := auth.NewWithUsers(auth.Users{"alice": {PasswordHash: string(hash)}}, time.Hour)
	c := New(startServer(t, a).URL)
	ctx := context.Background()

	_, err = c.List(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	resp, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, resp.Token, c.Token())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.User)

	_, err = c.List(ctx)
	assert.NoError(t, err)

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.Token())
}

func TestAPIError(t *testing.T) {
	err := apiError(http.StatusConflict, []byte(`{"error":"conversation already exists"}`))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "conversation already exists")

	err = apiError(http.StatusBadGateway, []byte("upstream down\n"))
	assert.Equal(t, "server error (HTTP 502): upstream down", err.Error())
}
