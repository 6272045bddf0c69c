package kvstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// EncryptionKeySize is the key length Badger expects for AES-256.
const EncryptionKeySize = 32

// ParseEncryptionKey accepts 32 bytes as hex (optionally 0x-prefixed) or standard
// base64. An empty input returns nil, meaning "no encryption".
func ParseEncryptionKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	// hex first: a 64-char hex string is also valid base64 and would decode to 48 bytes
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != EncryptionKeySize {
			return nil, fmt.Errorf("decoded key length must be %d, got %d", EncryptionKeySize, len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != EncryptionKeySize {
			return nil, fmt.Errorf("decoded key length must be %d, got %d", EncryptionKeySize, len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}

// ValidKey reports whether key is stored byte-for-byte: non-empty, no leading or
// trailing whitespace, no control characters. Keys are never normalized, so two
// distinct keys always address two distinct records.
func ValidKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range key {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

func cleanKey(key string) ([]byte, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	return []byte(key), nil
}
