// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/session"
	"github.com/jeranaias/promptbuilder/internal/ui/styles"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Session is the part of *session.Session the editor drives.
type Session interface {
	Key() string
	Snapshot() conversation.State
	Status() session.Status
	TotalTokens() int
	Append(role conversation.Role, content string) (conversation.Entry, error)
	Delete(i int) error
	Move(i int, dir conversation.Direction) error
	Patch(i int, fields conversation.Fields) error
	SetModel(model string) error
	Run(ctx context.Context) error
	Flush() error
}

// Options configures a Model.
type Options struct {
	// Theme defaults to styles.NewTheme().
	Theme *styles.Theme

	// Notifier delivers refreshes; it must be the session's listener.
	Notifier *Notifier

	// Markdown renders assistant entries with glamour.
	Markdown bool

	// Clipboard defaults to the system clipboard.
	Clipboard func(string) error
}

// =============================================================================
// MODEL
// =============================================================================

type mode int

const (
	modeBrowse mode = iota
	modeEditEntry
	modeEditModel
)

// runDoneMsg reports the end of a run started by the editor.
type runDoneMsg struct {
	err error
}

// Model is the Bubble Tea model of the editor.
type Model struct {
	sess   Session
	notify *Notifier
	theme  *styles.Theme
	keys   KeyMap

	state  conversation.State
	status session.Status
	total  int

	selected  int
	mode      mode
	editingID string

	textarea   textarea.Model
	modelInput textinput.Model
	viewport   viewport.Model
	spinner    spinner.Model
	help       help.Model

	markdown  bool
	renderer  *glamour.TermRenderer
	cache     map[string]rendered
	clipboard func(string) error

	cancel   context.CancelFunc
	width    int
	height   int
	ready    bool
	flash    string
	err      error
	quitting bool
}

type rendered struct {
	content string
	width   int
	out     string
}

// New creates an editor over sess.
func New(sess Session, opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}
	copyFn := opts.Clipboard
	if copyFn == nil {
		copyFn = clipboard.WriteAll
	}

	ta := textarea.New()
	ta.Placeholder = "Entry content..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(6)

	ti := textinput.New()
	ti.Prompt = "model: "
	ti.CharLimit = 128

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	m := Model{
		sess:       sess,
		notify:     opts.Notifier,
		theme:      theme,
		keys:       DefaultKeyMap(),
		textarea:   ta,
		modelInput: ti,
		viewport:   viewport.New(80, 20),
		spinner:    sp,
		help:       help.New(),
		markdown:   opts.Markdown,
		cache:      make(map[string]rendered),
		clipboard:  copyFn,
	}
	m.refresh()
	return m
}

// Init starts listening for session changes.
func (m Model) Init() tea.Cmd {
	if m.notify == nil {
		return nil
	}
	return m.notify.Wait()
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case RefreshMsg:
		m.refresh()
		var cmd tea.Cmd
		if m.notify != nil {
			cmd = m.notify.Wait()
		}
		return m, cmd

	case runDoneMsg:
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.refresh()
		switch {
		case msg.err == nil:
			m.flash = "Run complete"
		case errors.Is(msg.err, context.Canceled):
			m.flash = "Run stopped"
		default:
			m.err = msg.err
		}
		return m, nil

	case spinner.TickMsg:
		if !m.running() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.mode {
		case modeEditEntry:
			return m.handleEntryKey(msg)
		case modeEditModel:
			return m.handleModelKey(msg)
		default:
			return m.handleKey(msg)
		}
	}
	return m, nil
}

// running reports whether a run is active or was started and not yet
// reported back.
func (m Model) running() bool {
	return m.cancel != nil || m.status.Running
}

// refresh re-reads the session and redraws the transcript.
func (m *Model) refresh() {
	m.state = m.sess.Snapshot()
	m.status = m.sess.Status()
	m.total = m.sess.TotalTokens()
	m.keys.setRunning(m.running())

	n := len(m.state.Conversation.Entries)
	if m.selected >= n {
		m.selected = n - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	m.updateViewport()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.ready = true
	m.help.Width = width
	m.textarea.SetWidth(max(width-4, 10))
	m.modelInput.Width = max(width-10, 10)
	if m.markdown {
		m.renderer = newRenderer(width - 4)
		m.cache = make(map[string]rendered)
	}
	m.layout()
	m.updateViewport()
}

// layout sizes the viewport around the fixed chrome.
func (m *Model) layout() {
	chrome := 3 // header, status, help
	if m.mode == modeEditEntry {
		chrome += m.textarea.Height() + 2
	}
	if m.mode == modeEditModel {
		chrome++
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chrome, 1)
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := m.state.Conversation.Entries
	m.flash = ""

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}

	case key.Matches(msg, m.keys.Down):
		if m.selected < len(entries)-1 {
			m.selected++
		}

	case key.Matches(msg, m.keys.Top):
		m.selected = 0

	case key.Matches(msg, m.keys.Bottom):
		m.selected = max(len(entries)-1, 0)

	case key.Matches(msg, m.keys.MoveUp):
		if m.apply(m.sess.Move(m.selected, conversation.Up)) && m.selected > 0 {
			m.selected--
		}

	case key.Matches(msg, m.keys.MoveDown):
		if m.apply(m.sess.Move(m.selected, conversation.Down)) && m.selected < len(entries)-1 {
			m.selected++
		}

	case key.Matches(msg, m.keys.Append):
		e, err := m.sess.Append(conversation.RoleUser, "")
		if m.apply(err) {
			m.selected = m.state.Conversation.IndexOf(e.ID)
			return m.beginEdit()
		}

	case key.Matches(msg, m.keys.Delete):
		if len(entries) > 0 {
			m.apply(m.sess.Delete(m.selected))
		}

	case key.Matches(msg, m.keys.Toggle):
		if e, ok := m.current(); ok {
			include := !e.IncludeInQuery
			m.apply(m.sess.Patch(m.selected, conversation.Fields{IncludeInQuery: &include}))
		}

	case key.Matches(msg, m.keys.Role):
		if e, ok := m.current(); ok {
			role := e.Role.Next()
			m.apply(m.sess.Patch(m.selected, conversation.Fields{Role: &role}))
		}

	case key.Matches(msg, m.keys.Edit):
		if _, ok := m.current(); ok {
			return m.beginEdit()
		}

	case key.Matches(msg, m.keys.Model):
		m.mode = modeEditModel
		m.modelInput.SetValue(m.state.Conversation.Model)
		m.modelInput.CursorEnd()
		m.layout()
		return m, m.modelInput.Focus()

	case key.Matches(msg, m.keys.Run):
		return m.startRun()

	case msg.String() == "ctrl+r":
		m.flash = "A run is already in progress"

	case key.Matches(msg, m.keys.Cancel):
		if m.cancel != nil {
			m.cancel()
			m.flash = "Stopping..."
		}

	case key.Matches(msg, m.keys.Copy):
		return m.copySelected()
	}

	m.updateViewport()
	return m, nil
}

func (m Model) handleEntryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Done) {
		m.commitEdit()
		return m, nil
	}
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m Model) handleModelKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		if m.apply(m.sess.SetModel(m.modelInput.Value())) {
			m.flash = "Model set to " + m.state.Conversation.Model
		}
		m.endInput()
		return m, nil
	case key.Matches(msg, m.keys.Done):
		m.endInput()
		return m, nil
	}
	var cmd tea.Cmd
	m.modelInput, cmd = m.modelInput.Update(msg)
	return m, cmd
}

// =============================================================================
// ACTIONS
// =============================================================================

// apply records the outcome of a session edit and refreshes on success.
func (m *Model) apply(err error) bool {
	if err != nil {
		m.err = err
		return false
	}
	m.err = nil
	m.refresh()
	return true
}

func (m Model) current() (conversation.Entry, bool) {
	entries := m.state.Conversation.Entries
	if m.selected < 0 || m.selected >= len(entries) {
		return conversation.Entry{}, false
	}
	return entries[m.selected], true
}

func (m Model) beginEdit() (tea.Model, tea.Cmd) {
	e, ok := m.current()
	if !ok {
		return m, nil
	}
	m.mode = modeEditEntry
	m.editingID = e.ID
	m.textarea.SetValue(e.Content)
	m.layout()
	m.updateViewport()
	return m, m.textarea.Focus()
}

// commitEdit writes the textarea back to the entry being edited. The entry
// is found by ID since a run or another edit may have moved it.
func (m *Model) commitEdit() {
	m.state = m.sess.Snapshot()
	if i := m.state.Conversation.IndexOf(m.editingID); i >= 0 {
		content := m.textarea.Value()
		if content != m.state.Conversation.Entries[i].Content {
			m.apply(m.sess.Patch(i, conversation.Fields{Content: &content}))
		}
		m.selected = i
	} else {
		m.err = errors.New("entry was deleted while editing")
	}
	m.textarea.Blur()
	m.editingID = ""
	m.mode = modeBrowse
	m.layout()
	m.refresh()
}

func (m *Model) endInput() {
	m.modelInput.Blur()
	m.mode = modeBrowse
	m.layout()
	m.updateViewport()
}

func (m Model) startRun() (tea.Model, tea.Cmd) {
	if m.running() {
		m.flash = "A run is already in progress"
		return m, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.err = nil
	m.keys.setRunning(true)

	sess := m.sess
	run := func() tea.Msg {
		return runDoneMsg{err: sess.Run(ctx)}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

func (m Model) copySelected() (tea.Model, tea.Cmd) {
	e, ok := m.current()
	if !ok || e.Content == "" {
		m.flash = "Nothing to copy"
		return m, nil
	}
	if err := m.clipboard(e.Content); err != nil {
		m.err = fmt.Errorf("copy to clipboard: %w", err)
		return m, nil
	}
	n := len([]rune(e.Content))
	if n < 1000 {
		m.flash = fmt.Sprintf("Copied entry %d (%d chars)", m.selected+1, n)
	} else {
		m.flash = fmt.Sprintf("Copied entry %d (%.1fK chars)", m.selected+1, float64(n)/1000)
	}
	return m, nil
}

// quit stops any run and flushes pending saves before exiting.
func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if err := m.sess.Flush(); err != nil {
		m.err = err
	}
	m.quitting = true
	return m, tea.Quit
}

// Err returns the last error shown to the user.
func (m Model) Err() error {
	return m.err
}
