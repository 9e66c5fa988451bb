// Package kv holds short-lived state such as pending registrations.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is missing or has expired
var ErrNotFound = errors.New("key not found")

// Store is a key-value store with per-key expiry.
// A zero ttl stores the value without expiry.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	// Incr adds one to the counter at key and returns the new value. The
	// expiry is set when the counter is created and left alone afterwards.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Close() error
}
