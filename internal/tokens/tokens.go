// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokens estimates token counts for entry text.
//
// Estimates are advisory. Ollama models use their own vocabularies, so the
// count comes from the closest tiktoken encoding for the model family and is
// only meant to give the user a feel for prompt size.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator produces a token count for text sent to model.
type Estimator interface {
	Estimate(ctx context.Context, model, text string) (int, error)
}

// ErrUnknownEncoding is returned for encoding names tiktoken does not know.
var ErrUnknownEncoding = errors.New("unknown token encoding")

// DefaultEncoding is used for any family without an explicit mapping.
const DefaultEncoding = "cl100k_base"

// encodings lists the names accepted in configuration.
var encodings = map[string]tokenizer.Encoding{
	"cl100k_base": tokenizer.Cl100kBase,
	"o200k_base":  tokenizer.O200kBase,
	"r50k_base":   tokenizer.R50kBase,
	"p50k_base":   tokenizer.P50kBase,
}

// familyEncodings maps a model family to encodings by generation, the part
// of the name after the family ("4o" in "gpt-4o-mini"). The longest matching
// generation prefix wins; an empty prefix covers the whole family. Families
// not listed use the fallback.
var familyEncodings = map[string][]struct {
	generation string
	encoding   string
}{
	"gpt": {
		{"4o", "o200k_base"},
		{"4", "cl100k_base"},
		{"3.5", "cl100k_base"},
		{"3", "r50k_base"},
	},
	"o": {
		{"1", "o200k_base"},
		{"3", "o200k_base"},
	},
	"text": {
		{"davinci", "p50k_base"},
	},
	"davinci": {
		{"", "r50k_base"},
	},
}

// ValidEncoding reports whether name is a supported encoding.
func ValidEncoding(name string) bool {
	_, ok := encodings[name]
	return ok
}

// Family returns the model family: the lowercased name up to the first tag
// separator, dash or digit. "llama3:8b" is "llama", "qwen2.5-coder" is "qwen".
func Family(model string) string {
	family, _ := splitModel(model)
	return family
}

// splitModel separates the family from the rest of the name, with any
// registry path dropped and leading separators trimmed from the rest.
func splitModel(model string) (family, generation string) {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	end := strings.IndexFunc(m, func(r rune) bool {
		return r == ':' || r == '-' || r == '.' || unicode.IsDigit(r)
	})
	if end <= 0 {
		return m, ""
	}
	return m[:end], strings.TrimLeft(m[end:], "-:.")
}

// =============================================================================
// TIKTOKEN ESTIMATOR
// =============================================================================

// Tiktoken is a deterministic Estimator backed by tiktoken encodings. Codecs
// are loaded on first use and cached.
type Tiktoken struct {
	fallback string

	mu     sync.Mutex
	codecs map[string]tokenizer.Codec
}

// NewTiktoken creates an estimator. fallback names the encoding used for
// unmapped families; empty means DefaultEncoding.
func NewTiktoken(fallback string) (*Tiktoken, error) {
	if fallback == "" {
		fallback = DefaultEncoding
	}
	if !ValidEncoding(fallback) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, fallback)
	}
	return &Tiktoken{fallback: fallback, codecs: make(map[string]tokenizer.Codec)}, nil
}

// EncodingFor returns the encoding name used for model.
func (t *Tiktoken) EncodingFor(model string) string {
	family, generation := splitModel(model)
	best, bestLen := t.fallback, -1
	for _, fe := range familyEncodings[family] {
		if strings.HasPrefix(generation, fe.generation) && len(fe.generation) > bestLen {
			best, bestLen = fe.encoding, len(fe.generation)
		}
	}
	return best
}

// Estimate returns the number of tokens in text for model.
func (t *Tiktoken) Estimate(ctx context.Context, model, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	codec, err := t.codec(t.EncodingFor(model))
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	return len(ids), nil
}

func (t *Tiktoken) codec(name string) (tokenizer.Codec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.codecs[name]; ok {
		return c, nil
	}
	enc, ok := encodings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, name)
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	t.codecs[name] = c
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// Func adapts a plain function to the Estimator interface.
type Func func(ctx context.Context, model, text string) (int, error)

// Estimate calls f.
func (f Func) Estimate(ctx context.Context, model, text string) (int, error) {
	return f(ctx, model, text)
}
