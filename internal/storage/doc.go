// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations as single flat records.
//
// Each conversation is addressed by a key derived from its name. Two backends
// implement Store:
//
//   - FileStore: one JSON file per conversation, written atomically
//   - SQLiteStore: one row per conversation with entries kept as JSON
//
// Saves are whole-record and last write wins; there is no versioning.
//
// # Usage
//
//	store, err := storage.Open(storage.Config{Backend: "file", Dir: dir})
//	key, conv, err := store.Create(ctx, "My prompt", "llama3")
//	conv.Entries = append(conv.Entries, conversation.NewEntry(conversation.RoleUser, "Hi"))
//	err = store.Save(ctx, key, conv)
package storage
