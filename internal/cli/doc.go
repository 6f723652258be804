// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the promptbuilder command line.
//
// # Commands
//
//	serve                 run the HTTP API and relay
//	tui <key>             edit a conversation in the terminal
//	run <key> [prompt]    run a conversation and stream the reply
//	repl <key>            line-by-line chat on a conversation
//	list                  list conversations
//	create <name>         create a conversation
//	show <key>            print a conversation
//	export <key>          write Markdown, HTML or JSON
//	delete <key>          delete a conversation
//	models                list models available upstream
//	tokens <text>         estimate tokens for text
//	login / logout        manage the stored API token
//	hash-password         print a bcrypt hash for the users file
//	status                check the server, Ollama and login
//	config show|init|get|set|path|keys
//	version
//
// Client commands talk to a running server (--server) unless --local is
// given, in which case they open storage and Ollama directly.
package cli
