// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the promptbuilder HTTP API.
//
// # Endpoints
//
//   - GET    /health                           - Liveness and Ollama reachability
//   - POST   /api/login, /api/logout           - Session cookie / bearer token
//   - GET    /api/me                           - Current user
//   - GET    /api/models                       - Models installed in Ollama
//   - GET    /api/conversations                - Conversation summaries
//   - POST   /api/conversations                - Create {name, model}
//   - GET    /api/conversations/{key}          - Load a record
//   - PUT    /api/conversations/{key}          - Save a record (last write wins)
//   - DELETE /api/conversations/{key}          - Delete a record
//   - POST   /api/conversations/{key}/entries  - Append an empty user entry
//   - POST   /api/run/{key}                    - Stream a reply (see package relay)
//   - POST   /api/tokens                       - Token estimate {model, text}
//
// Errors are JSON objects of the form {"error": "..."}.
//
// # Middleware
//
// Requests pass through recovery, security headers, request logging, CORS,
// optional per-IP rate limiting and authentication, in that order.
//
// # Usage
//
//	srv := server.NewServer(":3001", store, ollama.NewClient()).
//		WithAuth(authenticator).
//		WithRateLimiter(server.NewRateLimiter(10, 50))
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
