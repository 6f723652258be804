// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/session"
	"github.com/jeranaias/promptbuilder/internal/ui/styles"
)

// =============================================================================
// FAKES
// =============================================================================

type memStore struct {
	mu    sync.Mutex
	conv  *conversation.Conversation
	saves int
}

func (s *memStore) Load(context.Context, string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Clone(), nil
}

func (s *memStore) Save(_ context.Context, _ string, c *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = c.Clone()
	s.saves++
	return nil
}

func (s *memStore) saved() *conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Clone()
}

func reply(chunks ...string) session.Runner {
	return session.RunnerFunc(func(context.Context, string, string, []conversation.Message) (io.ReadCloser, error) {
		var b strings.Builder
		for _, c := range chunks {
			b.WriteString(`{"message":{"role":"assistant","content":"` + c + `"},"done":false}` + "\n")
		}
		b.WriteString(`{"done":true}` + "\n")
		return io.NopCloser(strings.NewReader(b.String())), nil
	})
}

func newTestModel(t *testing.T, runner session.Runner, entries ...conversation.Entry) (Model, *memStore, *session.Session) {
	t.Helper()
	if entries == nil {
		entries = []conversation.Entry{}
	}
	store := &memStore{conv: &conversation.Conversation{
		Name: "demo", Model: "llama3", CreatedAt: time.Now().UTC(), Entries: entries,
	}}
	sess, err := session.Open(context.Background(), "demo", store, runner, nil, session.Options{
		SaveDelay:  time.Hour,
		TokenDelay: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close(context.Background()) })

	m := New(sess, Options{
		Theme:     styles.NewThemeWithProfile(termenv.Ascii),
		Clipboard: func(string) error { return nil },
	})
	m = update(m, tea.WindowSizeMsg{Width: 100, Height: 40})
	return m, store, sess
}

func update(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		m = update(m, keyMsg(k))
	}
	return m
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "space":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

// collect runs cmd and any batched commands, returning their messages.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func contents(m Model) []string {
	var out []string
	for _, e := range m.state.Conversation.Entries {
		out = append(out, e.Content)
	}
	return out
}

func three() []conversation.Entry {
	return []conversation.Entry{
		conversation.NewEntry(conversation.RoleSystem, "be brief"),
		conversation.NewEntry(conversation.RoleUser, "one"),
		conversation.NewEntry(conversation.RoleUser, "two"),
	}
}

// =============================================================================
// TESTS
// =============================================================================

func TestModel_ViewShowsConversation(t *testing.T) {
	m, _, _ := newTestModel(t, nil, three()...)

	view := m.View()
	for _, want := range []string{"demo", "llama3", "3 entries", "be brief", "system", "[x]", "saved"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_ViewBeforeResize(t *testing.T) {
	m, _, _ := newTestModel(t, nil)
	m.ready = false
	if got := m.View(); got != "Loading..." {
		t.Errorf("View() = %q, want Loading...", got)
	}
}

func TestModel_Navigation(t *testing.T) {
	m, _, _ := newTestModel(t, nil, three()...)

	m = press(m, "j", "j", "j")
	if m.selected != 2 {
		t.Errorf("selected = %d, want 2 (clamped)", m.selected)
	}
	m = press(m, "k")
	assert.Equal(t, 1, m.selected)
	m = press(m, "g")
	assert.Equal(t, 0, m.selected)
	m = press(m, "G")
	assert.Equal(t, 2, m.selected)
}

func TestModel_MoveKeepsSelection(t *testing.T) {
	m, _, _ := newTestModel(t, nil, three()...)

	m = press(m, "J")
	assert.Equal(t, []string{"one", "be brief", "two"}, contents(m))
	assert.Equal(t, 1, m.selected)

	m = press(m, "K")
	assert.Equal(t, []string{"be brief", "one", "two"}, contents(m))
	assert.Equal(t, 0, m.selected)

	// Moving past the top is a no-op.
	m = press(m, "K")
	assert.Equal(t, []string{"be brief", "one", "two"}, contents(m))
	assert.Equal(t, 0, m.selected)
}

func TestModel_ToggleRoleDelete(t *testing.T) {
	m, _, sess := newTestModel(t, nil, three()...)

	m = press(m, "j", "space")
	if m.state.Conversation.Entries[1].IncludeInQuery {
		t.Error("space should exclude the selected entry")
	}
	assert.Contains(t, m.View(), "[ ]")

	m = press(m, "r")
	assert.Equal(t, conversation.RoleAssistant, m.state.Conversation.Entries[1].Role)

	m = press(m, "d")
	assert.Equal(t, []string{"be brief", "two"}, contents(m))
	assert.Len(t, sess.Snapshot().Conversation.Entries, 2)

	m = press(m, "d", "d", "d")
	assert.Empty(t, m.state.Conversation.Entries)
	assert.Contains(t, m.View(), "No entries")
}

func TestModel_AppendAndEdit(t *testing.T) {
	m, _, sess := newTestModel(t, nil, three()...)

	m = press(m, "a")
	if m.mode != modeEditEntry {
		t.Fatalf("mode = %v, want edit after append", m.mode)
	}
	assert.Equal(t, 3, m.selected)

	m = press(m, "h", "i", "q")
	m = press(m, "backspace", "esc")
	assert.Equal(t, modeBrowse, m.mode)

	entries := sess.Snapshot().Conversation.Entries
	require.Len(t, entries, 4)
	assert.Equal(t, "hi", entries[3].Content)
	assert.Equal(t, conversation.RoleUser, entries[3].Role)
}

func TestModel_EditUnchangedDoesNotPatch(t *testing.T) {
	m, _, sess := newTestModel(t, nil, three()...)
	before := sess.Status().Dirty

	m = press(m, "enter")
	assert.Equal(t, "be brief", m.textarea.Value())
	m = press(m, "esc")

	assert.Equal(t, before, sess.Status().Dirty)
	assert.Equal(t, "be brief", m.state.Conversation.Entries[0].Content)
}

func TestModel_SetModel(t *testing.T) {
	m, _, sess := newTestModel(t, nil)

	m = press(m, "m")
	assert.Equal(t, modeEditModel, m.mode)
	m.modelInput.SetValue("mistral")
	m = press(m, "enter")

	assert.Equal(t, modeBrowse, m.mode)
	assert.Equal(t, "mistral", sess.Snapshot().Conversation.Model)
	assert.Contains(t, m.flash, "mistral")

	m = press(m, "m")
	m.modelInput.SetValue("")
	m = press(m, "enter")
	assert.True(t, errors.Is(m.err, conversation.ErrMissingModel))
	assert.Equal(t, "mistral", sess.Snapshot().Conversation.Model)
}

func TestModel_Run(t *testing.T) {
	m, _, _ := newTestModel(t, reply("Hi", " there"), three()...)

	next, cmd := m.Update(keyMsg("ctrl+r"))
	m = next.(Model)
	require.NotNil(t, cmd)
	if !m.running() {
		t.Fatal("model should be running after ctrl+r")
	}
	if m.keys.Run.Enabled() {
		t.Error("run binding should be disabled while running")
	}

	// A second run is refused while the first is active.
	next, again := m.Update(keyMsg("ctrl+r"))
	m = next.(Model)
	assert.Nil(t, again)
	assert.Contains(t, m.flash, "already in progress")

	var done *runDoneMsg
	for _, msg := range collect(cmd) {
		if d, ok := msg.(runDoneMsg); ok {
			done = &d
		}
	}
	require.NotNil(t, done)
	require.NoError(t, done.err)

	m = update(m, *done)
	assert.False(t, m.running())
	assert.True(t, m.keys.Run.Enabled())

	entries := m.state.Conversation.Entries
	require.Len(t, entries, 5)
	assert.Equal(t, conversation.RoleAssistant, entries[3].Role)
	assert.Equal(t, "Hi there", entries[3].Content)
	assert.Equal(t, "", entries[4].Content)
	assert.Contains(t, m.View(), "Hi there")
}

func TestModel_RunFailureShown(t *testing.T) {
	boom := session.RunnerFunc(func(context.Context, string, string, []conversation.Message) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	})
	m, _, _ := newTestModel(t, boom, three()...)

	_, cmd := m.Update(keyMsg("ctrl+r"))
	for _, msg := range collect(cmd) {
		if d, ok := msg.(runDoneMsg); ok {
			m = update(m, d)
		}
	}
	require.Error(t, m.Err())
	assert.Contains(t, m.View(), "connection refused")
}

func TestModel_RunCancelled(t *testing.T) {
	m, _, _ := newTestModel(t, nil)
	m = update(m, runDoneMsg{err: context.Canceled})
	assert.NoError(t, m.Err())
	assert.Equal(t, "Run stopped", m.flash)
}

func TestModel_Copy(t *testing.T) {
	m, _, _ := newTestModel(t, nil, three()...)
	var copied string
	m.clipboard = func(s string) error {
		copied = s
		return nil
	}

	m = press(m, "j", "y")
	assert.Equal(t, "one", copied)
	assert.Contains(t, m.flash, "Copied entry 2")

	m.clipboard = func(string) error { return errors.New("no display") }
	m = press(m, "y")
	assert.ErrorContains(t, m.Err(), "no display")
}

func TestModel_QuitFlushes(t *testing.T) {
	m, store, _ := newTestModel(t, nil, three()...)
	m = press(m, "d")

	next, cmd := m.Update(keyMsg("q"))
	m = next.(Model)
	require.NotNil(t, cmd)
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	assert.Equal(t, "", m.View())
	assert.Len(t, store.saved().Entries, 2)
}

func TestModel_RefreshPicksUpExternalEdits(t *testing.T) {
	m, _, sess := newTestModel(t, nil, three()...)

	_, err := sess.Append(conversation.RoleUser, "from elsewhere")
	require.NoError(t, err)
	assert.Len(t, m.state.Conversation.Entries, 3)

	m = update(m, RefreshMsg{})
	assert.Len(t, m.state.Conversation.Entries, 4)
}

func TestModel_HelpToggle(t *testing.T) {
	m, _, _ := newTestModel(t, nil)
	m = press(m, "?")
	assert.True(t, m.help.ShowAll)
	assert.Contains(t, m.View(), "move up")
}

func TestNotifier_Coalesces(t *testing.T) {
	n := NewNotifier()
	n.Listen(session.Event{Type: session.EventDelta})
	n.Listen(session.Event{Type: session.EventDelta})
	n.Listen(session.Event{Type: session.EventRunFinished})

	if _, ok := n.Wait()().(RefreshMsg); !ok {
		t.Fatal("Wait should deliver a RefreshMsg")
	}
	select {
	case <-n.ch:
		t.Error("events should collapse into a single pending refresh")
	default:
	}
}

func TestKeyMap_Help(t *testing.T) {
	k := DefaultKeyMap()
	assert.False(t, k.Cancel.Enabled())
	k.setRunning(true)
	assert.True(t, k.Cancel.Enabled())
	assert.False(t, k.Run.Enabled())
	assert.NotEmpty(t, k.ShortHelp())
	assert.Len(t, k.FullHelp(), 4)
}
