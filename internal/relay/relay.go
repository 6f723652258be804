// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay forwards a streaming chat reply from Ollama to an HTTP caller.
//
// The relay is a pass-through. It does not parse, buffer or reassemble lines;
// every chunk read from upstream is written and flushed before the next read,
// so the caller sees bytes in exactly the order and grouping Ollama sent them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jeranaias/promptbuilder/internal/conversation"
	"github.com/jeranaias/promptbuilder/internal/ollama"
	"github.com/jeranaias/promptbuilder/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MaxRequestBodySize bounds the run request body (4MB).
	MaxRequestBodySize = 4 * 1024 * 1024

	// MaxMessageCount is the maximum number of messages in a run request.
	MaxMessageCount = 1000

	// chunkSize is the read buffer for upstream chunks.
	chunkSize = 32 * 1024
)

// Upstream opens a streaming chat and returns its raw body.
type Upstream interface {
	OpenChatStream(ctx context.Context, model string, messages []conversation.Message) (io.ReadCloser, error)
}

// RunRequest is the body of POST /api/run/{key}.
type RunRequest struct {
	Model    string                 `json:"model"`
	Messages []conversation.Message `json:"messages"`
}

// Validate checks the request before anything is sent upstream.
func (r *RunRequest) Validate() error {
	if r.Model == "" {
		return conversation.ErrMissingModel
	}
	if len(r.Messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: maximum is %d", MaxMessageCount)
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: %w: %q", i, conversation.ErrInvalidRole, m.Role)
		}
	}
	return nil
}

// =============================================================================
// FORWARD
// =============================================================================

// Forward copies src to dst chunk by chunk. Each chunk is written and, when
// dst is an http.Flusher, flushed before the next read. Forward returns the
// number of bytes written and stops early if ctx is cancelled.
func Forward(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, chunkSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the run endpoint. It holds no per-request state.
type Service struct {
	upstream Upstream
	logger   *log.Logger
}

// New creates a relay service. A nil logger uses the standard logger.
func New(upstream Upstream, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{upstream: upstream, logger: logger}
}

// Handler returns the handler for POST /api/run/{key}.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.serveRun)
}

func (s *Service) serveRun(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := storage.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	ctx := r.Context()

	body, err := s.upstream.OpenChatStream(ctx, req.Model, req.Messages)
	if err != nil {
		s.logger.Printf("RELAY_UPSTREAM_FAILED | key=%s model=%s error=%v", key, req.Model, err)
		status := http.StatusBadGateway
		if ollama.IsModelNotFound(err) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	defer body.Close()

	s.logger.Printf("RELAY_START | key=%s model=%s messages=%d", key, req.Model, len(req.Messages))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	n, err := Forward(ctx, w, body)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		// Headers are gone; the caller sees a truncated stream.
		s.logger.Printf("RELAY_ABORTED | key=%s bytes=%d latency=%dms error=%v", key, n, elapsed, err)
		return
	}
	s.logger.Printf("RELAY_END | key=%s bytes=%d latency=%dms", key, n, elapsed)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
