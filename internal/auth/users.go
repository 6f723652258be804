// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidHash is returned when a users file holds a non-bcrypt hash.
var ErrInvalidHash = errors.New("invalid passwordHash")

// User is one record of the users file.
type User struct {
	PasswordHash string `json:"passwordHash"`
}

// Users maps user names to their records.
type Users map[string]User

// ParseUsers decodes and validates a users file.
func ParseUsers(data []byte) (Users, error) {
	var users Users
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users: %w", err)
	}
	if users == nil {
		users = Users{}
	}
	for _, name := range users.Names() {
		if !strings.HasPrefix(users[name].PasswordHash, "$2") {
			return nil, fmt.Errorf("user %s: %w", name, ErrInvalidHash)
		}
	}
	return users, nil
}

// LoadUsers reads and validates the users file at path.
func LoadUsers(path string) (Users, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	return ParseUsers(data)
}

// Names returns the user names in sorted order.
func (u Users) Names() []string {
	names := make([]string, 0, len(u))
	for name := range u {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HashPassword returns a bcrypt hash suitable for the users file.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
