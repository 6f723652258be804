// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/promptbuilder/internal/conversation"
)

// =============================================================================
// SCHEMA
// =============================================================================

const (
	queryCreateConversationsTable = `
		CREATE TABLE IF NOT EXISTS conversations (
			key        TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			model      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			entries    TEXT NOT NULL DEFAULT '[]'
		)`

	queryCreateIndexCreated = `
		CREATE INDEX IF NOT EXISTS idx_conversations_created
		ON conversations(created_at DESC)`

	queryInsertConversation = `
		INSERT INTO conversations (key, name, model, created_at, updated_at, entries)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`

	queryUpsertConversation = `
		INSERT INTO conversations (key, name, model, created_at, updated_at, entries)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			model = excluded.model,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			entries = excluded.entries`

	querySelectConversation = `
		SELECT name, model, created_at, entries FROM conversations WHERE key = ?`

	queryUpdateEntries = `
		UPDATE conversations SET entries = ?, updated_at = ? WHERE key = ?`

	queryListConversations = `
		SELECT key, name, model, created_at, json_array_length(entries)
		FROM conversations
		ORDER BY created_at DESC, key ASC`

	queryDeleteConversation = `DELETE FROM conversations WHERE key = ?`
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps each conversation as one row.
type SQLiteStore struct {
	writeDB *sql.DB // Single connection for writes
	readDB  *sql.DB // Pool of connections for reads
	dbPath  string
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".promptbuilder", "conversations.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)

	s := &SQLiteStore{writeDB: writeDB, readDB: readDB, dbPath: dbPath}

	for _, q := range append(sqlitePragmas, queryCreateConversationsTable, queryCreateIndexCreated) {
		if _, err := writeDB.Exec(q); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}
	// busy_timeout is per connection; the read pool needs it too.
	if _, err := readDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Create stores a new, empty conversation.
func (s *SQLiteStore) Create(ctx context.Context, name, model string) (string, *conversation.Conversation, error) {
	key, conv, err := newConversation(name, model)
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	res, err := s.writeDB.ExecContext(ctx, queryInsertConversation,
		key, conv.Name, conv.Model, conv.CreatedAt.UnixNano(), now.UnixNano(), "[]")
	if err != nil {
		return "", nil, fmt.Errorf("insert %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", nil, withKey(ErrExists, key)
	}
	return key, conv, nil
}

// Load retrieves a conversation by key.
func (s *SQLiteStore) Load(ctx context.Context, key string) (*conversation.Conversation, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.load(ctx, s.readDB, key)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, key string) (*conversation.Conversation, error) {
	var (
		conv    conversation.Conversation
		created int64
		entries string
	)
	err := q.QueryRowContext(ctx, querySelectConversation, key).Scan(&conv.Name, &conv.Model, &created, &entries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, withKey(ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}

	conv.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(entries), &conv.Entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if conv.Entries == nil {
		conv.Entries = []conversation.Entry{}
	}
	conv.EnsureIDs()
	return &conv, nil
}

// Save replaces the conversation stored under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, conv *conversation.Conversation) error {
	if err := prepareSave(key, conv); err != nil {
		return err
	}
	entries, err := json.Marshal(conv.Entries)
	if err != nil {
		return err
	}
	created := conv.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.writeDB.ExecContext(ctx, queryUpsertConversation,
		key, conv.Name, conv.Model, created.UnixNano(), time.Now().UnixNano(), string(entries))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Append adds an empty user entry to the stored conversation.
func (s *SQLiteStore) Append(ctx context.Context, key string) (conversation.Entry, error) {
	if err := ValidateKey(key); err != nil {
		return conversation.Entry{}, err
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return conversation.Entry{}, err
	}
	defer tx.Rollback()

	conv, err := s.load(ctx, tx, key)
	if err != nil {
		return conversation.Entry{}, err
	}
	entry := conversation.NewEntry(conversation.RoleUser, "")
	conv.Entries = append(conv.Entries, entry)

	data, err := json.Marshal(conv.Entries)
	if err != nil {
		return conversation.Entry{}, err
	}
	if _, err := tx.ExecContext(ctx, queryUpdateEntries, string(data), time.Now().UnixNano(), key); err != nil {
		return conversation.Entry{}, fmt.Errorf("append %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return conversation.Entry{}, err
	}
	return entry, nil
}

// List returns every conversation, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.readDB.QueryContext(ctx, queryListConversations)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			created int64
		)
		if err := rows.Scan(&sum.Key, &sum.Name, &sum.Model, &created, &sum.Entries); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes a conversation by key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	res, err := s.writeDB.ExecContext(ctx, queryDeleteConversation, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withKey(ErrNotFound, key)
	}
	return nil
}

// Close releases both connection pools.
func (s *SQLiteStore) Close() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}
	return errors.Join(errs...)
}
