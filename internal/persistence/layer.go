package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/shehryarbajwa/chatsync/internal/logger"
)

// Layer composes a primary and a fallback backend behind one interface.
//
// useFallback starts false. The first quota error from primary flips it and
// the same payload is replayed to fallback. There is no way back to primary
// within the process lifetime.
type Layer struct {
	primary     Backend
	fallback    Backend
	useFallback atomic.Bool
	log         *log.Logger
}

// NewLayer composes primary and fallback
func NewLayer(primary, fallback Backend) *Layer {
	return &Layer{
		primary:  primary,
		fallback: fallback,
		log:      logger.For("persistence"),
	}
}

// UsingFallback reports whether the quota flip has happened
func (l *Layer) UsingFallback() bool {
	return l.useFallback.Load()
}

func (l *Layer) active() (Backend, Backend) {
	if l.useFallback.Load() {
		return l.fallback, l.primary
	}
	return l.primary, l.fallback
}

// Get reads from the active backend and falls back to the other one when
// the key is missing there.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	first, second := l.active()

	data, ok, err := first.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return data, true, nil
	}
	return second.Get(ctx, key)
}

// GetAll returns every copy of key held by either backend, active first. A
// previous process may have flipped to fallback while primary still holds an
// older copy, so callers that can reconcile should read both.
func (l *Layer) GetAll(ctx context.Context, key string) ([][]byte, error) {
	first, second := l.active()

	var out [][]byte
	var errs []error
	for _, b := range []Backend{first, second} {
		data, ok, err := b.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			out = append(out, data)
		}
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Set writes value under key. A quota error from primary is absorbed: the
// layer flips to fallback and retries there.
func (l *Layer) Set(ctx context.Context, key string, value []byte) error {
	if l.useFallback.Load() {
		return l.fallback.Set(ctx, key, value)
	}

	err := l.primary.Set(ctx, key, value)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	if l.useFallback.CompareAndSwap(false, true) {
		l.log.Warn("Primary storage quota exceeded, switching to fallback", "key", key, "bytes", len(value))
	}
	if err := l.fallback.Set(ctx, key, value); err != nil {
		return fmt.Errorf("fallback write %s: %w", key, err)
	}
	return nil
}

// Close closes both backends
func (l *Layer) Close() error {
	return errors.Join(l.primary.Close(), l.fallback.Close())
}
