// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
)

// =============================================================================
// LINE DECODER
// =============================================================================

// LineDecoder splits chunks into complete lines. A trailing partial line is
// carried over and prepended to the next chunk, so a JSON object split across
// two reads is still decoded once.
type LineDecoder struct {
	carry []byte
}

// Feed appends chunk to the carry-over buffer and returns every complete,
// non-blank line it now contains, without the terminating newline.
func (d *LineDecoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	data := append(d.carry, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if line := trimLine(data[:i]); len(line) > 0 {
			lines = append(lines, string(line))
		}
		data = data[i+1:]
	}

	// Copy so the carry never aliases a caller's chunk.
	d.carry = append([]byte(nil), data...)
	return lines
}

// Flush returns the final unterminated line, if any, and resets the decoder.
func (d *LineDecoder) Flush() []string {
	line := trimLine(d.carry)
	d.carry = nil
	if len(line) == 0 {
		return nil
	}
	return []string{string(line)}
}

// Buffered returns the number of bytes waiting for a newline.
func (d *LineDecoder) Buffered() int {
	return len(d.carry)
}

func trimLine(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	return b
}

// =============================================================================
// LINE PARSING
// =============================================================================

// chatLine is the part of an upstream chat line that carries text.
type chatLine struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
}

// DecodeLine extracts message.content from one NDJSON line. It returns false
// when the line is not valid JSON or has no string message.content; such
// lines are meant to be skipped. A present but empty content returns ("", true).
func DecodeLine(line string) (string, bool) {
	var v chatLine
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return "", false
	}
	if v.Message == nil || v.Message.Content == nil {
		return "", false
	}
	return *v.Message.Content, true
}

// =============================================================================
// COUNTERS
// =============================================================================

// Counters tracks decode outcomes for logging. Safe for concurrent use.
type Counters struct {
	decoded atomic.Int64
	skipped atomic.Int64
	chars   atomic.Int64
}

// Observe decodes line, records the outcome and returns the decoded text.
func (c *Counters) Observe(line string) (string, bool) {
	text, ok := DecodeLine(line)
	if !ok {
		c.skipped.Add(1)
		return "", false
	}
	c.decoded.Add(1)
	c.chars.Add(int64(len(text)))
	return text, true
}

// Decoded returns the number of lines that yielded content.
func (c *Counters) Decoded() int64 { return c.decoded.Load() }

// Skipped returns the number of malformed or contentless lines.
func (c *Counters) Skipped() int64 { return c.skipped.Load() }

// Bytes returns the total length of decoded text.
func (c *Counters) Bytes() int64 { return c.chars.Load() }
