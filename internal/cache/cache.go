// Package cache stores voted recognition results keyed by the SHA-256 of
// the input image bytes.
//
// Both stores evict in insertion order (FIFO). Reading an entry does not
// refresh its position, so this is not an LRU cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/voting"
)

// ErrInvalidCapacity is returned when a store is created with max entries <= 0.
var ErrInvalidCapacity = errors.New("cache: max entries must be positive")

// Entry is a cached voted result.
type Entry struct {
	Result     voting.Result `json:"result"`
	Tier       string        `json:"tier"`
	InsertedAt time.Time     `json:"inserted_at"`
}

// Store is a bounded, concurrency-safe result cache.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put inserts or replaces an entry. Replacing keeps the original
	// insertion position for eviction purposes.
	Put(ctx context.Context, key string, entry Entry) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Key returns the content address of an image.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
