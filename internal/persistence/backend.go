// Package persistence stores serialized state buckets. A small primary
// backend is tried first; once it reports its quota is exhausted the layer
// moves every later write to a large fallback backend for the rest of the
// process lifetime.
package persistence

import (
	"context"
	"errors"
)

// Bucket keys
const (
	KeySessions = "sessions"
	KeyUIState  = "ui_state"
)

// ErrQuotaExceeded is returned by a backend that cannot hold the payload
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Backend is a durable key/value store
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}
