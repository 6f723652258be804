// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the author of an entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Roles lists the valid roles in cycling order.
var Roles = []Role{RoleSystem, RoleUser, RoleAssistant}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Next returns the role after r in cycling order.
func (r Role) Next() Role {
	for i, role := range Roles {
		if role == r {
			return Roles[(i+1)%len(Roles)]
		}
	}
	return RoleUser
}

// ParseRole validates and converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// =============================================================================
// ENTRY TYPE
// =============================================================================

// Entry is a single transcript turn.
type Entry struct {
	ID             string `json:"id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	IncludeInQuery bool   `json:"includeInQuery"`

	// Tokens is the last estimate for Content. It is advisory: an edit to
	// Content leaves it in place until a new estimate lands.
	Tokens *int `json:"tokens,omitempty"`
}

// NewEntry creates an included entry with a fresh ID.
func NewEntry(role Role, content string) Entry {
	return Entry{
		ID:             NewID(),
		Role:           role,
		Content:        content,
		IncludeInQuery: true,
	}
}

// NewID returns a fresh stable entry identifier.
func NewID() string {
	return uuid.NewString()
}

// TokenCount returns the estimate or zero when none is known.
func (e Entry) TokenCount() int {
	if e.Tokens == nil {
		return 0
	}
	return *e.Tokens
}

// HasTokens reports whether an estimate has been recorded.
func (e Entry) HasTokens() bool {
	return e.Tokens != nil
}

func (e Entry) clone() Entry {
	if e.Tokens != nil {
		n := *e.Tokens
		e.Tokens = &n
	}
	return e
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the durable record. Its identity is the storage key, which
// is kept outside the record.
type Conversation struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	Entries   []Entry   `json:"messages"`
}

// New creates an empty conversation after validating name and model.
func New(name, model string, now time.Time) (*Conversation, error) {
	c := &Conversation{
		Name:      strings.TrimSpace(name),
		Model:     strings.TrimSpace(model),
		CreatedAt: now.UTC(),
		Entries:   []Entry{},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the fields required of any stored conversation.
func (c *Conversation) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, ErrMissingName)
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, ErrMissingModel)
	}
	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		if !e.Role.Valid() {
			errs = append(errs, fmt.Errorf("entry %d: %w: %q", i, ErrInvalidRole, e.Role))
		}
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, ErrMissingID))
		} else if seen[e.ID] {
			errs = append(errs, fmt.Errorf("entry %d: duplicate id %s", i, e.ID))
		}
		seen[e.ID] = true
	}
	return errors.Join(errs...)
}

// EnsureIDs assigns IDs to entries that lack one. Records written by older
// clients carry no IDs.
func (c *Conversation) EnsureIDs() bool {
	changed := false
	for i := range c.Entries {
		if c.Entries[i].ID == "" {
			c.Entries[i].ID = NewID()
			changed = true
		}
	}
	return changed
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Entries = cloneEntries(c.Entries)
	return &out
}

// IndexOf returns the position of the entry with the given ID, or -1.
func (c *Conversation) IndexOf(id string) int {
	return indexOf(c.Entries, id)
}

// Payload returns the upstream messages for c.
func (c *Conversation) Payload() []Message {
	return Payload(c.Entries)
}

// TotalTokens returns the included token total for c.
func (c *Conversation) TotalTokens() int {
	return TotalTokens(c.Entries)
}

// =============================================================================
// UPSTREAM PAYLOAD
// =============================================================================

// Message is one element of the upstream chat payload.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Payload returns the included entries in transcript order with bookkeeping
// fields stripped.
func Payload(entries []Entry) []Message {
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		if !e.IncludeInQuery {
			continue
		}
		out = append(out, Message{Role: e.Role, Content: e.Content})
	}
	return out
}

// TotalTokens sums the estimates of included entries, counting missing
// estimates as zero. It undercounts until every included entry is estimated.
func TotalTokens(entries []Entry) int {
	total := 0
	for _, e := range entries {
		if e.IncludeInQuery {
			total += e.TokenCount()
		}
	}
	return total
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.clone()
	}
	return out
}

func indexOf(entries []Entry, id string) int {
	if id == "" {
		return -1
	}
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
