// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps each conversation in <BaseDir>/<key>.json.
type FileStore struct {
	// BaseDir is the directory for storing conversations
	// Default: ~/.promptbuilder/conversations/
	BaseDir string

	// mu serializes writers in this process; other processes are not locked out.
	mu sync.Mutex
}

// NewFileStore creates a store rooted at baseDir, creating it if needed. An
// empty baseDir uses ~/.promptbuilder/conversations.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(homeDir, ".promptbuilder", "conversations")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	return &FileStore{BaseDir: baseDir}, nil
}

// Create stores a new, empty conversation.
func (s *FileStore) Create(ctx context.Context, name, model string) (string, *conversation.Conversation, error) {
	key, conv, err := newConversation(name, model)
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.filePath(key)); err == nil {
		return "", nil, withKey(ErrExists, key)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", nil, err
	}
	if err := s.write(key, conv); err != nil {
		return "", nil, err
	}
	return key, conv, nil
}

// Load retrieves a conversation by key.
func (s *FileStore) Load(ctx context.Context, key string) (*conversation.Conversation, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.read(key)
}

// Save replaces the conversation stored under key.
func (s *FileStore) Save(ctx context.Context, key string, conv *conversation.Conversation) error {
	if err := prepareSave(key, conv); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, conv)
}

// Append adds an empty user entry to the stored conversation.
func (s *FileStore) Append(ctx context.Context, key string) (conversation.Entry, error) {
	if err := ValidateKey(key); err != nil {
		return conversation.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.read(key)
	if err != nil {
		return conversation.Entry{}, err
	}
	entry := conversation.NewEntry(conversation.RoleUser, "")
	conv.Entries = append(conv.Entries, entry)
	if err := s.write(key, conv); err != nil {
		return conversation.Entry{}, err
	}
	return entry, nil
}

// List returns every readable conversation, newest first.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, err
	}

	summaries := []Summary{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".json")
		if !ValidKey(key) {
			continue
		}

		conv, err := s.read(key)
		if err != nil {
			continue // Skip corrupted files
		}
		summaries = append(summaries, summarize(key, conv))
	}

	sortSummaries(summaries)
	return summaries, nil
}

// Delete removes a conversation by key.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(key)); err != nil {
		if os.IsNotExist(err) {
			return withKey(ErrNotFound, key)
		}
		return err
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// filePath returns the file path for a conversation key.
func (s *FileStore) filePath(key string) string {
	return filepath.Join(s.BaseDir, key+".json")
}

func (s *FileStore) read(key string) (*conversation.Conversation, error) {
	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, withKey(ErrNotFound, key)
		}
		return nil, err
	}

	var conv conversation.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if conv.Entries == nil {
		conv.Entries = []conversation.Entry{}
	}
	conv.EnsureIDs()
	return &conv, nil
}

func (s *FileStore) write(key string, conv *conversation.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(s.filePath(key), data, 0644)
}
