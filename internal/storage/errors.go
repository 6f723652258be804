// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// Use errors.Is to check for these.
var (
	ErrNotFound   = &StoreError{Message: "conversation not found"}
	ErrExists     = &StoreError{Message: "conversation already exists"}
	ErrInvalidKey = &StoreError{Message: "invalid conversation key"}
)

// StoreError represents a storage-related error.
// It can be compared using errors.Is.
type StoreError struct {
	Message string
	Key     string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return e.Message + ": " + e.Key
	}
	return e.Message
}

// Is implements errors.Is support for comparing storage errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func withKey(base *StoreError, key string) error {
	return &StoreError{Message: base.Message, Key: key}
}
