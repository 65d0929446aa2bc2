// Package idempotency builds the deduplication keys the Handler Executor
// uses to ensure a repeated idempotency_key invokes a handler at most once.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KeyVersion = "v1"

	MaxHandlerLen = 128
	MaxKeyLen     = 256
)

var (
	ErrInvalidKey     = errors.New("idempotency: invalid key")
	ErrEmptyHandler   = errors.New("idempotency: handler name is required")
	ErrEmptyRawKey    = errors.New("idempotency: raw idempotency key is required")
)

// KeyParts is the parsed representation of a dedup key.
type KeyParts struct {
	Version string
	Handler string
	Hash    string // lowercase hex sha256 of the raw idempotency key
}

// BuildKey computes a deterministic dedup key namespaced by handler name, so
// the same idempotency_key used by two different handlers never collides.
func BuildKey(handler, rawKey string) (string, error) {
	handler = normalizeHandler(handler)
	if handler == "" {
		return "", ErrEmptyHandler
	}
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return "", ErrEmptyRawKey
	}
	sum := sha256.Sum256([]byte(rawKey))
	hash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s:%s:%s", KeyVersion, handler, hash)
	if len(key) > MaxKeyLen {
		return "", ErrInvalidKey
	}
	return key, nil
}

// ParseKey parses "v1:<handler>:<sha256hex>".
func ParseKey(key string) (KeyParts, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxKeyLen {
		return KeyParts{}, ErrInvalidKey
	}
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return KeyParts{}, ErrInvalidKey
	}
	version, handler, hash := parts[0], parts[1], parts[2]
	if version != KeyVersion {
		return KeyParts{}, ErrInvalidKey
	}
	if handler == "" || len(handler) > MaxHandlerLen {
		return KeyParts{}, ErrInvalidKey
	}
	if len(hash) != 64 || !isLowerHex(hash) {
		return KeyParts{}, ErrInvalidKey
	}
	return KeyParts{Version: version, Handler: handler, Hash: hash}, nil
}

func normalizeHandler(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > MaxHandlerLen {
		s = s[:MaxHandlerLen]
	}
	return s
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
