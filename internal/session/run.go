// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/stream"
)

// Run sends the included entries to the model and streams the reply into a
// new assistant entry. An empty user entry is appended after it for the next
// turn. Run blocks until the stream ends or fails; cancel ctx to stop early.
//
// A failed run keeps whatever text arrived. The error is returned and also
// reported by Status().Err until the next run starts.
func (s *Session) Run(ctx context.Context) error {
	if s.runner == nil {
		return ErrNoRunner
	}

	s.mu.Lock()
	if s.closed || s.closing {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state.Run.Running {
		s.mu.Unlock()
		return conversation.ErrRunActive
	}
	payload := s.state.Conversation.Payload()
	model := s.state.Conversation.Model
	next, err := conversation.Reduce(s.state, conversation.StartRun{
		AssistantID: conversation.NewID(),
		FollowUpID:  conversation.NewID(),
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.rev++
	s.runErr = nil
	s.decoded, s.skipped = 0, 0
	runDone := make(chan struct{})
	s.runDone = runDone
	s.mu.Unlock()
	defer close(runDone)

	targetID := next.Run.TargetID
	s.scheduleSave()
	s.notify(Event{Type: EventRunStarted, State: next})

	start := time.Now()
	s.logger.Printf("RUN_START | key=%s model=%s messages=%d", s.key, model, len(payload))

	counters, runErr := s.stream(ctx, targetID, model, payload)

	s.mu.Lock()
	done, _ := conversation.Reduce(s.state, conversation.Complete{})
	s.state = done
	s.rev++
	s.runErr = runErr
	s.decoded, s.skipped = counters.Decoded(), counters.Skipped()
	s.mu.Unlock()

	s.scheduleSave()
	s.scheduleTokens(targetID)

	if runErr != nil {
		s.logger.Printf("RUN_FAILED | key=%s decoded=%d skipped=%d error=%v", s.key, counters.Decoded(), counters.Skipped(), runErr)
	} else {
		s.logger.Printf("RUN_END | key=%s decoded=%d skipped=%d latency=%dms", s.key, counters.Decoded(), counters.Skipped(), time.Since(start).Milliseconds())
	}
	s.notify(Event{Type: EventRunFinished, State: done, Err: runErr})
	return runErr
}

// stream pulls chunks from the runner and applies each decoded delta.
func (s *Session) stream(ctx context.Context, targetID, model string, payload []conversation.Message) (*stream.Counters, error) {
	counters := &stream.Counters{}

	body, err := s.runner.Open(ctx, s.key, model, payload)
	if err != nil {
		return counters, err
	}
	defer body.Close()

	it := stream.NewChunkIterator(body)
	var dec stream.LineDecoder
	for {
		chunk, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return counters, err
		}
		s.applyLines(targetID, dec.Feed(chunk), counters)
	}
	if n := dec.Buffered(); n > 0 {
		s.logger.Printf("STREAM_UNTERMINATED | key=%s bytes=%d", s.key, n)
	}
	s.applyLines(targetID, dec.Flush(), counters)

	return counters, nil
}

func (s *Session) applyLines(targetID string, lines []string, counters *stream.Counters) {
	for _, line := range lines {
		text, ok := counters.Observe(line)
		if !ok || text == "" {
			continue
		}
		_, next, err := s.dispatch(conversation.ApplyDelta{TargetID: targetID, Text: text}, true)
		if err != nil {
			continue
		}
		s.notify(Event{Type: EventDelta, State: next, Delta: text})
	}
}
