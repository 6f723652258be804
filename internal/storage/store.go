// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/jeranaias/promptbuilder/internal/conversation"
)

// =============================================================================
// INTERFACE
// =============================================================================

// Store is the persistence boundary for conversations.
type Store interface {
	// Create stores an empty conversation under the key derived from name.
	Create(ctx context.Context, name, model string) (string, *conversation.Conversation, error)

	// Load returns the record for key.
	Load(ctx context.Context, key string) (*conversation.Conversation, error)

	// Save replaces the record for key. Last write wins.
	Save(ctx context.Context, key string, conv *conversation.Conversation) error

	// Append adds an empty, included user entry and returns it.
	Append(ctx context.Context, key string) (conversation.Entry, error)

	// List returns summaries, newest first.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes the record for key.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Summary is the listing view of a conversation.
type Summary struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	Entries   int       `json:"entries"`
}

func summarize(key string, c *conversation.Conversation) Summary {
	return Summary{
		Key:       key,
		Name:      c.Name,
		Model:     c.Model,
		CreatedAt: c.CreatedAt,
		Entries:   len(c.Entries),
	}
}

// sortSummaries orders newest first, then by key for a stable listing.
func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].Key < s[j].Key
	})
}

// =============================================================================
// OPEN
// =============================================================================

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config selects and locates a backend.
type Config struct {
	// Backend is "file" (default) or "sqlite".
	Backend string

	// Dir holds one JSON file per conversation for the file backend.
	Dir string

	// SQLitePath is the database file. Defaults to <Dir>/conversations.db.
	SQLitePath string
}

// Open creates the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Dir, "conversations.db")
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// newConversation validates inputs shared by every backend's Create.
func newConversation(name, model string) (string, *conversation.Conversation, error) {
	conv, err := conversation.New(name, model, time.Now())
	if err != nil {
		return "", nil, err
	}
	key, err := KeyFromName(conv.Name)
	if err != nil {
		return "", nil, err
	}
	return key, conv, nil
}

// prepareSave validates a record before it is written.
func prepareSave(key string, conv *conversation.Conversation) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("save %s: nil conversation", key)
	}
	conv.EnsureIDs()
	if conv.Entries == nil {
		conv.Entries = []conversation.Entry{}
	}
	return conv.Validate()
}
