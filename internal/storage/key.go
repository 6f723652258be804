// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxKeyLength is the longest key accepted.
const MaxKeyLength = 64

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidKey reports whether key can address a conversation. Keys are safe to
// use as file names and URL path segments.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// ValidateKey returns ErrInvalidKey for keys that fail ValidKey.
func ValidateKey(key string) error {
	if !ValidKey(key) {
		return withKey(ErrInvalidKey, key)
	}
	return nil
}

// KeyFromName derives a key from a display name. Accents are folded
// ("Café" becomes "cafe"), letters are lowercased and any other run of
// characters becomes a single dash.
func KeyFromName(name string) (string, error) {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	dash := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
		if b.Len() >= MaxKeyLength {
			break
		}
	}

	key := strings.Trim(b.String(), "-_")
	if len(key) > MaxKeyLength {
		key = strings.TrimRight(key[:MaxKeyLength], "-_")
	}
	if err := ValidateKey(key); err != nil {
		return "", withKey(ErrInvalidKey, name)
	}
	return key, nil
}
