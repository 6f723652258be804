// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
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
	"github.com/jeranaias/promptbuilder/internal/storage"
	"github.com/jeranaias/promptbuilder/internal/tokens"
)

// =============================================================================
// HELPERS
// =============================================================================

var pbEnv = []string{
	"PB_LISTEN", "PB_OLLAMA_URL", "PB_MODEL", "PB_STORAGE",
	"PB_SERVER_URL", "PB_TOKEN", "PB_AUTH",
}

// isolate points the data directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PB_DATA_DIR", dir)
	for _, k := range pbEnv {
		t.Setenv(k, "")
	}
	return dir
}

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Ollama is running")
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[{"name":"llama3:latest","size":4661224676}]}`)
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

func startServer(t *testing.T, a *auth.Authenticator) string {
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
	return srv.URL
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, "", args...)
	require.NoError(t, err, "promptbuilder %s", strings.Join(args, " "))
	return out
}

func loadShown(t *testing.T, args ...string) conversation.Conversation {
	t.Helper()
	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, args...)), &conv))
	return conv
}

// =============================================================================
// CONVERSATION COMMANDS
// =============================================================================

func TestVersion(t *testing.T) {
	isolate(t)
	out := mustExecute(t, "version")
	assert.Contains(t, out, "promptbuilder "+Version)
}

func TestConversationLifecycle_Remote(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)

	out := mustExecute(t, "--server", url, "list")
	assert.Contains(t, out, "No conversations")

	out = mustExecute(t, "--server", url, "create", "Demo", "--model", "llama3", "--system", "Be brief.")
	assert.Contains(t, out, "Created demo (llama3)")

	out = mustExecute(t, "--server", url, "list")
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "Demo")

	var payload []conversation.Message
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, "--server", url, "show", "demo", "--payload")), &payload))
	assert.Equal(t, []conversation.Message{
		{Role: conversation.RoleSystem, Content: "Be brief."},
		{Role: conversation.RoleUser, Content: ""},
	}, payload)

	out = mustExecute(t, "--server", url, "show", "demo")
	assert.Contains(t, out, "Demo")
	assert.Contains(t, out, "Be brief.")
	assert.Contains(t, out, "(empty)")

	_, err := execute(t, "", "--server", url, "create", "demo")
	require.Error(t, err)

	out = mustExecute(t, "--server", url, "delete", "demo")
	assert.Contains(t, out, "Deleted demo")

	_, err = execute(t, "", "--server", url, "show", "demo")
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, ExitCode(err))
}

func TestCreateUsesDefaultModel(t *testing.T) {
	isolate(t)
	t.Setenv("PB_MODEL", "mistral")
	url := startServer(t, nil)

	out := mustExecute(t, "--server", url, "create", "notes")
	assert.Contains(t, out, "(mistral)")
}

func TestRun_Remote(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)
	mustExecute(t, "--server", url, "create", "demo", "--model", "llama3")

	out := mustExecute(t, "--server", url, "run", "demo", "Hello")
	assert.Equal(t, "Hi there\n", out)

	conv := loadShown(t, "--server", url, "show", "demo", "--json")
	require.Len(t, conv.Entries, 3)
	assert.Equal(t, "Hello", conv.Entries[0].Content)
	assert.Equal(t, conversation.RoleAssistant, conv.Entries[1].Role)
	assert.Equal(t, "Hi there", conv.Entries[1].Content)
	assert.Equal(t, conversation.RoleUser, conv.Entries[2].Role)
	assert.Empty(t, conv.Entries[2].Content)
}

func TestRun_PromptFromStdinAndModelOverride(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)
	mustExecute(t, "--server", url, "create", "demo", "--model", "llama3")

	out, err := execute(t, "What now?\n", "--server", url, "run", "demo", "--model", "mistral", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Hi there")

	conv := loadShown(t, "--server", url, "show", "demo", "--json")
	assert.Equal(t, "mistral", conv.Model)
	assert.Equal(t, "What now?", conv.Entries[0].Content)
}

func TestRun_Local(t *testing.T) {
	dir := isolate(t)
	t.Setenv("PB_OLLAMA_URL", fakeOllama(t).URL)

	mustExecute(t, "--local", "create", "demo", "--model", "llama3")
	out := mustExecute(t, "--local", "run", "demo", "Hello")
	assert.Equal(t, "Hi there\n", out)

	_, err := os.Stat(filepath.Join(dir, "conversations", "demo.json"))
	require.NoError(t, err)

	conv := loadShown(t, "--local", "show", "demo", "--json")
	require.Len(t, conv.Entries, 3)
	assert.Equal(t, "Hi there", conv.Entries[1].Content)
}

func TestModels(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)

	out := mustExecute(t, "--server", url, "models", "--json")
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Equal(t, []string{"llama3:latest"}, names)

	out = mustExecute(t, "--server", url, "models")
	assert.Contains(t, out, "llama3:latest")
	assert.Contains(t, out, "GB")
}

func TestTokens(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)

	assert.Equal(t, "3\n", mustExecute(t, "--server", url, "tokens", "one", "two", "three"))

	out, err := execute(t, "a b\nc d e\n", "--server", url, "tokens", "-")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
}

func TestStatus_Remote(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)

	out := mustExecute(t, "--server", url, "status")
	assert.Contains(t, out, url+" ok")
	assert.Contains(t, out, "disabled")

	var rep statusReport
	require.NoError(t, json.Unmarshal([]byte(mustExecute(t, "--server", url, "status", "--json")), &rep))
	assert.Equal(t, "remote", rep.Mode)
	require.NotNil(t, rep.Health)
	assert.Equal(t, "ok", rep.Health.OllamaStatus)
	assert.False(t, rep.Health.AuthEnabled)
}

func TestStatus_Unreachable(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "--server", "http://127.0.0.1:1", "status")
	require.Error(t, err)
	assert.Equal(t, ExitNetworkError, ExitCode(err))
}

func TestStatus_Local(t *testing.T) {
	isolate(t)
	t.Setenv("PB_OLLAMA_URL", fakeOllama(t).URL)

	out := mustExecute(t, "--local", "status")
	assert.Contains(t, out, "Ollama   ok")
	assert.Contains(t, out, "Storage  file")
}

// =============================================================================
// AUTH COMMANDS
// =============================================================================

func TestLoginLogout(t *testing.T) {
	dir := isolate(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	url := startServer(t, auth.NewWithUsers(auth.Users{"alice": {PasswordHash: string(hash)}}, time.Hour))

	_, err = execute(t, "", "--server", url, "list")
	require.Error(t, err)
	assert.Equal(t, ExitAuthError, ExitCode(err))

	_, err = execute(t, "wrong\n", "--server", url, "login", "--user", "alice")
	require.Error(t, err)

	out, err := execute(t, "pw\n", "--server", url, "login", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice")

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Contains(t, mustExecute(t, "list"), "No conversations")
	assert.Equal(t, "[REDACTED]\n", mustExecute(t, "config", "get", "client.token"))

	assert.Contains(t, mustExecute(t, "status"), "logged in as alice")
	assert.Contains(t, mustExecute(t, "logout"), "Logged out")
	_, err = execute(t, "", "list")
	assert.Equal(t, ExitAuthError, ExitCode(err))
}

func TestLogin_AuthDisabled(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)

	out, err := execute(t, "anything\n", "--server", url, "login", "--user", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "authentication disabled")
}

func TestHashPassword(t *testing.T) {
	isolate(t)
	out, err := execute(t, "s3cret\n", "hash-password")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	_, err = execute(t, "\n", "hash-password")
	assert.Error(t, err)
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func TestConfigCommands(t *testing.T) {
	dir := isolate(t)

	assert.Equal(t, filepath.Join(dir, "config.toml")+"\n", mustExecute(t, "config", "path"))

	out := mustExecute(t, "config", "init")
	assert.Contains(t, out, "Wrote")
	_, err := execute(t, "", "config", "init")
	assert.Equal(t, ExitUsageError, ExitCode(err))
	mustExecute(t, "config", "init", "--force")

	mustExecute(t, "config", "set", "server.listen", "127.0.0.1:9000")
	assert.Equal(t, "127.0.0.1:9000\n", mustExecute(t, "config", "get", "server.listen"))

	mustExecute(t, "config", "set", "server.cors_origins", "http://a,http://b")
	assert.Equal(t, "http://a,http://b\n", mustExecute(t, "config", "get", "server.cors_origins"))

	_, err = execute(t, "", "config", "set", "storage.backend", "postgres")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
	assert.Equal(t, "file\n", mustExecute(t, "config", "get", "storage.backend"))

	_, err = execute(t, "", "config", "get", "no.such")
	assert.Equal(t, ExitUsageError, ExitCode(err))

	assert.Contains(t, mustExecute(t, "config", "keys"), "ollama.default_model")
	assert.Contains(t, mustExecute(t, "config", "show"), `"listen": "127.0.0.1:9000"`)
}

func TestConfigFlag_JSON(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "pb.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ollama":{"default_model":"phi3"}}`), 0600))

	assert.Equal(t, "phi3\n", mustExecute(t, "--config", path, "config", "get", "ollama.default_model"))

	mustExecute(t, "--config", path, "config", "set", "ollama.default_model", "qwen2")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"default_model": "qwen2"`)
}

func TestInvalidConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\nbackend = \"tape\"\n"), 0600))

	_, err := execute(t, "", "--config", path, "list")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestInteractiveCommandsNeedTTY(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)
	for _, name := range []string{"tui", "repl"} {
		_, err := execute(t, "", "--server", url, name, "demo")
		var ttyErr *TTYRequiredError
		assert.ErrorAs(t, err, &ttyErr, name)
	}
}

func TestExport(t *testing.T) {
	isolate(t)
	url := startServer(t, nil)
	mustExecute(t, "--server", url, "create", "demo", "--model", "llama3")
	mustExecute(t, "--server", url, "run", "demo", "Hello")

	out := mustExecute(t, "--server", url, "export", "demo", "--stdout", "--no-metadata")
	assert.Contains(t, out, "# demo")
	assert.Contains(t, out, "## Assistant\n\nHi there")

	dir := t.TempDir()
	out = mustExecute(t, "--server", url, "export", "demo", "--format", "html", "--dir", dir)
	assert.Contains(t, out, filepath.Join(dir, "demo.html"))
	data, err := os.ReadFile(filepath.Join(dir, "demo.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<p>Hi there</p>")

	_, err = execute(t, "", "--server", url, "export", "demo", "--format", "pdf")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}
