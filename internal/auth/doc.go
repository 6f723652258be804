// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth checks users against a bcrypt users file and issues session
// tokens for the HTTP API.
//
// The users file is a JSON object keyed by user name:
//
//	{"alice": {"passwordHash": "$2a$10$..."}}
//
// Every hash must be a bcrypt hash. A file with any other hash is rejected as
// a whole. The file is watched and reloaded when it changes; a bad edit keeps
// the users that were loaded before it.
//
// Tokens are random, held in memory only, and expire after a fixed TTL.
// They are accepted from the pb_session cookie or an Authorization: Bearer
// header.
package auth
