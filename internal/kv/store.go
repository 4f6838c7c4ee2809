// Package kv is the shared key/value store used for the posting lock and
// cooldown timestamps. Every mutation is a single atomic operation so several
// poster processes can coordinate through one store.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal distributed KV contract.
type Store interface {
	// SetNX stores value under key only if the key is absent. It reports
	// whether the value was written. ttl <= 0 means no expiry.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the current value or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set unconditionally stores value under key.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// CompareAndDelete removes key only if it still holds value, so a holder
	// whose lease expired cannot delete a lock taken by someone else.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}
