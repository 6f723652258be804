// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import "fmt"

// =============================================================================
// STATE
// =============================================================================

// RunState identifies the entry receiving streamed output. It is never
// persisted and only lives for the duration of one run.
type RunState struct {
	Running bool `json:"running"`

	// TargetID addresses the assistant placeholder; deltas use it exclusively.
	TargetID string `json:"targetId,omitempty"`

	// TargetIndex is the placeholder position captured at run start.
	TargetIndex int `json:"targetIndex"`
}

// State is the single owned value every action transforms.
type State struct {
	Conversation Conversation
	Run          RunState
}

// NewState wraps a loaded conversation with an idle run state.
func NewState(c *Conversation) State {
	var st State
	if c != nil {
		st.Conversation = *c.Clone()
	}
	return st
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.Conversation = *s.Conversation.Clone()
	return s
}

// Entries is shorthand for s.Conversation.Entries.
func (s State) Entries() []Entry {
	return s.Conversation.Entries
}

// IsStreaming reports whether the entry with id is the live run target.
func (s State) IsStreaming(id string) bool {
	return s.Run.Running && s.Run.TargetID == id
}

// =============================================================================
// ACTIONS
// =============================================================================

// Action is a transition request applied by Reduce.
type Action interface {
	apply(State) (State, error)
}

// Direction selects a one-step move.
type Direction int

const (
	Up Direction = iota
	Down
)

// String returns "up" or "down".
func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// Append adds an entry at the end of the transcript.
type Append struct {
	Entry Entry
}

// Delete removes the entry at Index.
type Delete struct {
	Index int
}

// Move swaps the entry at Index with its neighbour in Direction.
type Move struct {
	Index     int
	Direction Direction
}

// Fields lists the entry attributes a Patch may change. Nil means unchanged.
type Fields struct {
	Role           *Role
	Content        *string
	IncludeInQuery *bool
}

// ChangesContent reports whether applying f may alter the entry's text.
func (f Fields) ChangesContent() bool {
	return f.Content != nil
}

// Patch updates selected fields of the entry at Index.
type Patch struct {
	Index  int
	Fields Fields
}

// SetModel changes the model used by future runs.
type SetModel struct {
	Model string
}

// StartRun appends the assistant placeholder and an empty follow-up user
// entry, then marks the placeholder as the streaming target. The caller
// supplies both IDs so the transition stays deterministic.
type StartRun struct {
	AssistantID string
	FollowUpID  string
}

// ApplyDelta appends streamed text to the run target.
type ApplyDelta struct {
	TargetID string
	Text     string
}

// Complete ends the active run.
type Complete struct{}

// SetTokens records an estimate for the entry with EntryID. Content is the
// text that was measured; the write is dropped if the entry has since changed
// or disappeared.
type SetTokens struct {
	EntryID string
	Content string
	Tokens  int
}

// =============================================================================
// REDUCE
// =============================================================================

// Reduce applies a to s and returns the resulting state. s is not modified.
func Reduce(s State, a Action) (State, error) {
	if a == nil {
		return s, ErrUnknownAction
	}
	next := s.Clone()
	out, err := a.apply(next)
	if err != nil {
		return s, err
	}
	return out, nil
}

func checkIndex(s State, i int) error {
	if i < 0 || i >= len(s.Conversation.Entries) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i, len(s.Conversation.Entries))
	}
	return nil
}

func (a Append) apply(s State) (State, error) {
	if a.Entry.ID == "" {
		return s, ErrMissingID
	}
	if !a.Entry.Role.Valid() {
		return s, fmt.Errorf("%w: %q", ErrInvalidRole, a.Entry.Role)
	}
	s.Conversation.Entries = append(s.Conversation.Entries, a.Entry.clone())
	return s, nil
}

func (a Delete) apply(s State) (State, error) {
	if err := checkIndex(s, a.Index); err != nil {
		return s, err
	}
	entries := s.Conversation.Entries
	if s.IsStreaming(entries[a.Index].ID) {
		return s, ErrEntryStreaming
	}
	s.Conversation.Entries = append(entries[:a.Index], entries[a.Index+1:]...)
	return s, nil
}

func (a Move) apply(s State) (State, error) {
	if err := checkIndex(s, a.Index); err != nil {
		return s, err
	}
	j := a.Index - 1
	if a.Direction == Down {
		j = a.Index + 1
	}
	if j < 0 || j >= len(s.Conversation.Entries) {
		return s, nil
	}
	e := s.Conversation.Entries
	e[a.Index], e[j] = e[j], e[a.Index]
	return s, nil
}

func (a Patch) apply(s State) (State, error) {
	if err := checkIndex(s, a.Index); err != nil {
		return s, err
	}
	e := &s.Conversation.Entries[a.Index]
	if s.IsStreaming(e.ID) && (a.Fields.Content != nil || a.Fields.Role != nil) {
		return s, ErrEntryStreaming
	}
	if a.Fields.Role != nil {
		if !a.Fields.Role.Valid() {
			return s, fmt.Errorf("%w: %q", ErrInvalidRole, *a.Fields.Role)
		}
		e.Role = *a.Fields.Role
	}
	if a.Fields.Content != nil {
		e.Content = *a.Fields.Content
	}
	if a.Fields.IncludeInQuery != nil {
		e.IncludeInQuery = *a.Fields.IncludeInQuery
	}
	return s, nil
}

func (a SetModel) apply(s State) (State, error) {
	if a.Model == "" {
		return s, ErrMissingModel
	}
	s.Conversation.Model = a.Model
	return s, nil
}

func (a StartRun) apply(s State) (State, error) {
	if s.Run.Running {
		return s, ErrRunActive
	}
	if a.AssistantID == "" || a.FollowUpID == "" || a.AssistantID == a.FollowUpID {
		return s, ErrMissingID
	}
	assistant := Entry{ID: a.AssistantID, Role: RoleAssistant, IncludeInQuery: true}
	followUp := Entry{ID: a.FollowUpID, Role: RoleUser, IncludeInQuery: true}

	s.Conversation.Entries = append(s.Conversation.Entries, assistant, followUp)
	s.Run = RunState{
		Running:     true,
		TargetID:    a.AssistantID,
		TargetIndex: len(s.Conversation.Entries) - 2,
	}
	return s, nil
}

func (a ApplyDelta) apply(s State) (State, error) {
	if a.Text == "" {
		return s, nil
	}
	i := indexOf(s.Conversation.Entries, a.TargetID)
	if i < 0 {
		return s, nil
	}
	s.Conversation.Entries[i].Content += a.Text
	return s, nil
}

func (Complete) apply(s State) (State, error) {
	s.Run.Running = false
	return s, nil
}

func (a SetTokens) apply(s State) (State, error) {
	i := indexOf(s.Conversation.Entries, a.EntryID)
	if i < 0 {
		return s, nil
	}
	e := &s.Conversation.Entries[i]
	if e.Content != a.Content {
		return s, nil
	}
	e.Tokens = IntPtr(a.Tokens)
	return s, nil
}
