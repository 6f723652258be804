// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/promptbuilder/internal/debounce"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 200 * time.Millisecond

// Watch reloads the users file whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file on save
// are still seen. A reload that fails validation keeps the current users.
func (a *Authenticator) Watch(ctx context.Context, logger *log.Logger) error {
	if !a.enabled || a.usersFile == "" {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(a.usersFile)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return err
	}

	var timer debounce.Timer
	go func() {
		defer watcher.Close()
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				timer.Schedule(func() { a.reload(logger) }, reloadDelay)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("AUTH_WATCH_ERROR | error=%v", err)
			}
		}
	}()
	return nil
}

// Reload re-reads the users file now.
func (a *Authenticator) Reload() error {
	if a.usersFile == "" {
		return errors.New("no users file configured")
	}
	users, err := LoadUsers(a.usersFile)
	if err != nil {
		return err
	}
	a.SetUsers(users)
	return nil
}

func (a *Authenticator) reload(logger *log.Logger) {
	if err := a.Reload(); err != nil {
		logger.Printf("AUTH_RELOAD_FAILED | file=%s error=%v", a.usersFile, err)
		return
	}
	logger.Printf("AUTH_RELOADED | file=%s users=%d", a.usersFile, a.UserCount())
}
