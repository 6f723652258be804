// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/debounce"
	"github.com/jeranaias/promptbuilder/internal/tokens"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Store loads and saves whole conversation records.
type Store interface {
	Load(ctx context.Context, key string) (*conversation.Conversation, error)
	Save(ctx context.Context, key string, conv *conversation.Conversation) error
}

// Runner opens the streamed reply for a payload. The returned body is the raw
// NDJSON stream; the session decodes it.
type Runner interface {
	Open(ctx context.Context, key, model string, messages []conversation.Message) (io.ReadCloser, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, key, model string, messages []conversation.Message) (io.ReadCloser, error)

// Open calls f.
func (f RunnerFunc) Open(ctx context.Context, key, model string, messages []conversation.Message) (io.ReadCloser, error) {
	return f(ctx, key, model, messages)
}

// Errors returned by Session.
var (
	ErrClosed   = errors.New("session is closed")
	ErrNoRunner = errors.New("session has no runner")
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options tunes a Session. Zero values take defaults.
type Options struct {
	// SaveDelay is the quiet period before a save (default: 500ms).
	SaveDelay time.Duration

	// TokenDelay is the quiet period before an entry is estimated (default: 2s).
	TokenDelay time.Duration

	// SaveTimeout bounds a single Store.Save call (default: 10s).
	SaveTimeout time.Duration

	// TokenTimeout bounds a single estimate (default: 10s).
	TokenTimeout time.Duration

	// Listener receives an Event after every change. It is called without
	// the session lock held and may call back into the session.
	Listener func(Event)

	// Logger receives operational messages (default: discard).
	Logger *log.Logger
}

// DefaultOptions returns the default timings.
func DefaultOptions() Options {
	return Options{
		SaveDelay:    500 * time.Millisecond,
		TokenDelay:   2000 * time.Millisecond,
		SaveTimeout:  10 * time.Second,
		TokenTimeout: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SaveDelay <= 0 {
		o.SaveDelay = def.SaveDelay
	}
	if o.TokenDelay <= 0 {
		o.TokenDelay = def.TokenDelay
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = def.SaveTimeout
	}
	if o.TokenTimeout <= 0 {
		o.TokenTimeout = def.TokenTimeout
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}

// =============================================================================
// STATUS
// =============================================================================

// Status summarizes the session for display.
type Status struct {
	// Running is true while a run is streaming.
	Running bool

	// Dirty is true when in-memory edits have not been saved yet.
	Dirty bool

	// Err is the transport failure of the last run, if any.
	Err error

	// SaveErr is the failure of the last save, cleared by the next success.
	SaveErr error

	// Decoded and Skipped count stream lines of the last run.
	Decoded int64
	Skipped int64
}

// =============================================================================
// SESSION
// =============================================================================

// Session owns the in-memory state of one conversation.
type Session struct {
	key       string
	store     Store
	runner    Runner
	estimator tokens.Estimator
	opts      Options
	logger    *log.Logger

	mu       sync.Mutex
	state    conversation.State
	rev      uint64 // bumped on every change that needs saving
	savedRev uint64
	runErr   error
	saveErr  error
	decoded  int64
	skipped  int64
	closing  bool          // Close has started; no new runs
	closed   bool          // no further edits or saves
	runDone  chan struct{} // closed when the active run returns
	listener func(Event)

	saveMu      sync.Mutex // serializes store writes
	saveTimer   debounce.Timer
	tokenTimers debounce.Group
}

// Open loads key from store and returns a session for it. Entries that have
// content but no estimate are queued for estimation. runner and estimator
// may be nil.
func Open(ctx context.Context, key string, store Store, runner Runner, estimator tokens.Estimator, opts Options) (*Session, error) {
	if store == nil {
		return nil, errors.New("session: nil store")
	}
	conv, err := store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	conv.EnsureIDs()

	opts = opts.withDefaults()
	s := &Session{
		key:       key,
		store:     store,
		runner:    runner,
		estimator: estimator,
		opts:      opts,
		logger:    opts.Logger,
		state:     conversation.NewState(conv),
		listener:  opts.Listener,
	}

	for _, e := range s.state.Conversation.Entries {
		if e.Content != "" && !e.HasTokens() {
			s.scheduleTokens(e.ID)
		}
	}

	s.logger.Printf("SESSION_OPEN | key=%s entries=%d", key, len(conv.Entries))
	return s, nil
}

// Key returns the storage key.
func (s *Session) Key() string {
	return s.key
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// TotalTokens returns the estimated total of included entries.
func (s *Session) TotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Conversation.TotalTokens()
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running: s.state.Run.Running,
		Dirty:   s.rev != s.savedRev,
		Err:     s.runErr,
		SaveErr: s.saveErr,
		Decoded: s.decoded,
		Skipped: s.skipped,
	}
}

// =============================================================================
// DISPATCH
// =============================================================================

// dispatch applies a under the lock. persist marks the change as needing a
// save. It returns the state before and after.
func (s *Session) dispatch(a conversation.Action, persist bool) (conversation.State, conversation.State, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return conversation.State{}, conversation.State{}, ErrClosed
	}
	prev := s.state
	next, err := conversation.Reduce(prev, a)
	if err != nil {
		s.mu.Unlock()
		return prev, prev, err
	}
	s.state = next
	if persist {
		s.rev++
	}
	s.mu.Unlock()

	if persist {
		s.scheduleSave()
	}
	return prev, next, nil
}

func (s *Session) notify(ev Event) {
	s.mu.Lock()
	fn := s.listener
	s.mu.Unlock()
	if fn == nil {
		return
	}
	ev.State = ev.State.Clone()
	fn(ev)
}

// =============================================================================
// STRUCTURAL EDITS
// =============================================================================

// Append adds an entry at the end and returns it.
func (s *Session) Append(role conversation.Role, content string) (conversation.Entry, error) {
	entry := conversation.NewEntry(role, content)
	_, next, err := s.dispatch(conversation.Append{Entry: entry}, true)
	if err != nil {
		return conversation.Entry{}, err
	}
	if content != "" {
		s.scheduleTokens(entry.ID)
	}
	s.notify(Event{Type: EventChanged, State: next})
	return entry, nil
}

// Delete removes the entry at index i.
func (s *Session) Delete(i int) error {
	prev, next, err := s.dispatch(conversation.Delete{Index: i}, true)
	if err != nil {
		return err
	}
	s.tokenTimers.Stop(prev.Conversation.Entries[i].ID)
	s.notify(Event{Type: EventChanged, State: next})
	return nil
}

// Move swaps entry i with its neighbour in dir.
func (s *Session) Move(i int, dir conversation.Direction) error {
	_, next, err := s.dispatch(conversation.Move{Index: i, Direction: dir}, true)
	if err != nil {
		return err
	}
	s.notify(Event{Type: EventChanged, State: next})
	return nil
}

// Patch updates fields of entry i. A content change queues a new estimate.
func (s *Session) Patch(i int, fields conversation.Fields) error {
	_, next, err := s.dispatch(conversation.Patch{Index: i, Fields: fields}, true)
	if err != nil {
		return err
	}
	if fields.ChangesContent() {
		s.scheduleTokens(next.Conversation.Entries[i].ID)
	}
	s.notify(Event{Type: EventChanged, State: next})
	return nil
}

// SetModel changes the model used by future runs.
func (s *Session) SetModel(model string) error {
	_, next, err := s.dispatch(conversation.SetModel{Model: model}, true)
	if err != nil {
		return err
	}
	s.notify(Event{Type: EventChanged, State: next})
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (s *Session) scheduleSave() {
	s.saveTimer.Schedule(s.saveNow, s.opts.SaveDelay)
}

// saveNow writes the state as it is at fire time.
func (s *Session) saveNow() {
	s.write(false)
}

// write saves the current state. Once the session is closed only the final
// write from Close reaches the store.
func (s *Session) write(final bool) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.closed && !final {
		s.mu.Unlock()
		return
	}
	snapshot := s.state.Conversation.Clone()
	rev := s.rev
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SaveTimeout)
	defer cancel()
	err := s.store.Save(ctx, s.key, snapshot)

	s.mu.Lock()
	if err != nil {
		s.saveErr = err
	} else {
		s.saveErr = nil
		if rev > s.savedRev {
			s.savedRev = rev
		}
	}
	state := s.state
	s.mu.Unlock()

	if err != nil {
		s.logger.Printf("SAVE_FAILED | key=%s error=%v", s.key, err)
		s.notify(Event{Type: EventSaveFailed, State: state, Err: err})
		return
	}
	s.logger.Printf("SAVED | key=%s entries=%d", s.key, len(snapshot.Entries))
	s.notify(Event{Type: EventSaved, State: state})
}

// Flush runs a pending save immediately. It returns the resulting save error.
func (s *Session) Flush() error {
	s.saveTimer.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

func (s *Session) scheduleTokens(id string) {
	if s.estimator == nil {
		return
	}
	s.tokenTimers.Schedule(id, func() { s.estimate(id) }, s.opts.TokenDelay)
}

// estimate measures the entry's current content and folds the result back.
// SetTokens drops the result if the entry changed or vanished meanwhile.
func (s *Session) estimate(id string) {
	s.mu.Lock()
	i := s.state.Conversation.IndexOf(id)
	if i < 0 || s.closed {
		s.mu.Unlock()
		return
	}
	content := s.state.Conversation.Entries[i].Content
	model := s.state.Conversation.Model
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.TokenTimeout)
	defer cancel()
	n, err := s.estimator.Estimate(ctx, model, content)
	if err != nil {
		s.logger.Printf("TOKENS_FAILED | key=%s entry=%s error=%v", s.key, id, err)
		return
	}

	_, next, err := s.dispatch(conversation.SetTokens{EntryID: id, Content: content, Tokens: n}, false)
	if err != nil {
		return
	}
	j := next.Conversation.IndexOf(id)
	if j < 0 || next.Conversation.Entries[j].Content != content {
		return
	}

	// Tokens are part of the stored record.
	s.mu.Lock()
	s.rev++
	s.mu.Unlock()
	s.scheduleSave()
	s.notify(Event{Type: EventTokens, State: next})
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close waits for an active run to return, stops pending estimates and
// writes any unsaved state. The session then rejects further edits and runs.
// Close does not cancel a run; cancel its context first. If ctx ends while
// the run is still streaming, Close returns ctx.Err() and the session stays
// open.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	runDone := s.runDone
	s.mu.Unlock()

	if runDone != nil {
		select {
		case <-runDone:
		case <-ctx.Done():
			s.mu.Lock()
			s.closing = false
			s.mu.Unlock()
			return ctx.Err()
		}
	}

	s.tokenTimers.StopAll()
	s.mu.Lock()
	s.closed = true
	dirty := s.rev != s.savedRev
	s.mu.Unlock()

	pending := s.saveTimer.Stop()
	if dirty || pending {
		done := make(chan struct{})
		go func() {
			s.write(true)
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	err := s.saveErr
	s.mu.Unlock()

	s.logger.Printf("SESSION_CLOSE | key=%s", s.key)
	return err
}
