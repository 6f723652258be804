// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"io"
)

// DefaultChunkSize is the read buffer used when none is given.
const DefaultChunkSize = 4096

// ChunkIterator is a finite pull iterator over the chunks of a reader.
// It is not safe for concurrent use and cannot be restarted.
type ChunkIterator struct {
	r    io.Reader
	buf  []byte
	done bool
}

// NewChunkIterator creates an iterator with the default chunk size.
func NewChunkIterator(r io.Reader) *ChunkIterator {
	return NewChunkIteratorSize(r, DefaultChunkSize)
}

// NewChunkIteratorSize creates an iterator that reads at most size bytes per
// chunk.
func NewChunkIteratorSize(r io.Reader, size int) *ChunkIterator {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkIterator{r: r, buf: make([]byte, size)}
}

// Next returns the next non-empty chunk. The returned slice is a copy and may
// be retained. At end of stream Next returns io.EOF; any other read error is
// returned once, after which the iterator reports io.EOF.
func (it *ChunkIterator) Next() ([]byte, error) {
	if it.done {
		return nil, io.EOF
	}
	for {
		n, err := it.r.Read(it.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, it.buf[:n])
			if err != nil {
				// Deliver the bytes now; the error surfaces on the next call.
				it.r = errReader{err}
			}
			return chunk, nil
		}
		if err != nil {
			it.done = true
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// Done reports whether the iterator is exhausted.
func (it *ChunkIterator) Done() bool {
	return it.done
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
