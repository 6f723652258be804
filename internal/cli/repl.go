// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptbuilder/internal/config"
	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/session"
)

const replHelp = `Type a prompt to fill the next user turn and run it.

  /show               print the conversation
  /run                run without adding a prompt
  /model <name>       change the model
  /system <text>      append a system entry
  /role <n> <role>    change the role of entry n
  /include <n>        include entry n in the next run
  /exclude <n>        leave entry n out of the next run
  /delete <n>         delete entry n
  /move <n> up|down   move entry n
  /tokens             print the included token total
  /help               show this help
  /quit               save and exit`

func (a *app) newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl <key>",
		Short: "Chat with a conversation line by line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := RequiresTTY("repl"); err != nil {
				return err
			}
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.close()

			out := cmd.OutOrStdout()
			sess, err := a.openSession(cmd.Context(), b, args[0], deltaPrinter(out), nil)
			if err != nil {
				return err
			}
			r := &repl{sess: sess, out: out, app: a}

			line := liner.NewLiner()
			line.SetCtrlCAborts(true)
			historyFile := filepath.Join(config.DataDir(), "repl_history")
			if f, err := os.Open(historyFile); err == nil {
				line.ReadHistory(f)
				f.Close()
			}

			// Ctrl+C while a run streams stops the run; at the prompt it exits.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				for range sigCh {
					if r.cancelRun() {
						fmt.Fprintln(cmd.ErrOrStderr(), "\n"+warningStyle.Render("[Cancelled]"))
					}
				}
			}()

			conv := sess.Snapshot().Conversation
			fmt.Fprintf(out, "%s %s\n%s\n", titleStyle.Render(conv.Name), labelStyle.Render(conv.Model), dimStyle.Render("Type /help for commands."))

			for {
				input, err := line.Prompt(promptStyle.Render("pb> "))
				if err != nil {
					// Ctrl+C at the prompt or EOF.
					fmt.Fprintln(out)
					break
				}
				if strings.TrimSpace(input) != "" {
					line.AppendHistory(input)
				}
				more, err := r.handle(cmd.Context(), input)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", errorStyle.Render("[Error]"), err)
				}
				if !more {
					break
				}
			}

			if err := os.MkdirAll(filepath.Dir(historyFile), 0700); err == nil {
				if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
					line.WriteHistory(f)
					f.Close()
				}
			}
			line.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return sess.Close(ctx)
		},
	}
}

// deltaPrinter returns a listener writing streamed text to out.
func deltaPrinter(out io.Writer) func(session.Event) {
	return func(ev session.Event) {
		if ev.Type == session.EventDelta {
			fmt.Fprint(out, ev.Delta)
		}
	}
}

// =============================================================================
// REPL STATE
// =============================================================================

// replSession is the part of a session the repl drives.
type replSession interface {
	promptTarget
	Delete(i int) error
	Move(i int, dir conversation.Direction) error
	SetModel(model string) error
	TotalTokens() int
	Run(ctx context.Context) error
}

type repl struct {
	sess replSession
	out  io.Writer
	app  *app

	mu     sync.Mutex
	cancel context.CancelFunc
}

// cancelRun stops the active run and reports whether there was one.
func (r *repl) cancelRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	r.cancel = nil
	return true
}

// handle processes one input line and reports whether to keep reading.
func (r *repl) handle(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return true, nil
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return false, nil
	}
	if !strings.HasPrefix(input, "/") {
		if err := setPrompt(r.sess, input); err != nil {
			return true, err
		}
		return true, r.run(ctx)
	}

	cmd, rest, _ := strings.Cut(input[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "quit", "q", "exit":
		return false, nil

	case "help", "h", "?":
		fmt.Fprintln(r.out, replHelp)

	case "show":
		conv := r.sess.Snapshot().Conversation
		r.app.printConversation(r.out, &conv)

	case "run":
		return true, r.run(ctx)

	case "model":
		if rest == "" {
			fmt.Fprintln(r.out, r.sess.Snapshot().Conversation.Model)
			return true, nil
		}
		if err := r.sess.SetModel(rest); err != nil {
			return true, err
		}
		fmt.Fprintf(r.out, "%s %s\n", successStyle.Render("Model:"), rest)

	case "system":
		if rest == "" {
			return true, usageErrorf("usage: /system <text>")
		}
		_, err := r.sess.Append(conversation.RoleSystem, rest)
		return true, err

	case "role":
		n, arg, err := r.entryArg(rest)
		if err != nil {
			return true, err
		}
		role, err := conversation.ParseRole(arg)
		if err != nil {
			return true, err
		}
		return true, r.sess.Patch(n, conversation.Fields{Role: &role})

	case "include", "exclude":
		n, _, err := r.entryArg(rest)
		if err != nil {
			return true, err
		}
		include := cmd == "include"
		return true, r.sess.Patch(n, conversation.Fields{IncludeInQuery: &include})

	case "delete", "del":
		n, _, err := r.entryArg(rest)
		if err != nil {
			return true, err
		}
		return true, r.sess.Delete(n)

	case "move":
		n, arg, err := r.entryArg(rest)
		if err != nil {
			return true, err
		}
		switch strings.ToLower(arg) {
		case "up":
			return true, r.sess.Move(n, conversation.Up)
		case "down":
			return true, r.sess.Move(n, conversation.Down)
		}
		return true, usageErrorf("usage: /move <n> up|down")

	case "tokens":
		fmt.Fprintf(r.out, "%d tokens included\n", r.sess.TotalTokens())

	default:
		return true, usageErrorf("unknown command /%s (try /help)", cmd)
	}
	return true, nil
}

// entryArg parses "<n> [rest]" where n is a 1-based entry number.
func (r *repl) entryArg(s string) (int, string, error) {
	num, rest, _ := strings.Cut(s, " ")
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, "", usageErrorf("expected an entry number, got %q", num)
	}
	count := len(r.sess.Snapshot().Entries())
	if n < 1 || n > count {
		return 0, "", usageErrorf("entry %d does not exist (have %d)", n, count)
	}
	return n - 1, strings.TrimSpace(rest), nil
}

func (r *repl) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer r.cancelRun()

	err := r.sess.Run(ctx)
	fmt.Fprintln(r.out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
