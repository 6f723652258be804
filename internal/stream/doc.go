// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a raw NDJSON chat stream into text deltas.
//
// Reading and decoding are separate steps. ChunkIterator pulls byte chunks
// exactly as the transport delivers them; LineDecoder reassembles lines that
// straddle chunk boundaries and hands complete lines to DecodeLine.
//
// Usage:
//
//	it := stream.NewChunkIterator(body)
//	var dec stream.LineDecoder
//	for {
//	    chunk, err := it.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    for _, line := range dec.Feed(chunk) {
//	        if text, ok := stream.DecodeLine(line); ok {
//	            fmt.Print(text)
//	        }
//	    }
//	}
//
// Malformed lines are skipped, never fatal.
package stream
