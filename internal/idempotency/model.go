// Package idempotency stores the responses of lifecycle requests sent with an
// Idempotency-Key so a retried request replays the first outcome instead of
// opening a second case.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to store a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is empty or has control characters.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a stored response is replayed.
const DefaultExpiry = 24 * time.Hour

// Record is a stored response keyed by method, route and client key.
type Record struct {
	Key         string    `json:"key"`
	Method      string    `json:"method"`
	Route       string    `json:"route"`
	RequestHash string    `json:"request_hash"` // SHA-256 of the request body
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidateKey checks a client supplied key.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	for _, c := range key {
		if c < 0x20 || c == 0x7f {
			return ErrInvalidKey
		}
	}
	return nil
}

// ScopedKey namespaces key by method and route so one client key cannot
// replay the response of another endpoint.
func ScopedKey(method, route, key string) string {
	return method + " " + route + " " + key
}

// Hash returns the hex SHA-256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Repository persists idempotency records. Keys passed to it are scoped keys.
type Repository interface {
	// Get returns ErrKeyNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) (*Record, error)

	// Store returns ErrKeyExists if the key is already stored.
	Store(ctx context.Context, key string, record *Record) error

	// DeleteOlderThan removes records created more than age ago.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
