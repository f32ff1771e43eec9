// Package remote talks to the session backend.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// Client is the backend interface the sync engine consumes
type Client interface {
	ListSessions(ctx context.Context, forceRefresh bool) ([]models.SessionSummary, error)
	GetSession(ctx context.Context, id string, forceRefresh bool) (models.Session, error)
	SaveSession(ctx context.Context, s models.Session) error
	DeleteSession(ctx context.Context, id string) error
	DeleteSessions(ctx context.Context, ids []string) error
}

var (
	ErrNetwork     = errors.New("network failure")
	ErrAuth        = errors.New("authentication failed")
	ErrRateLimited = errors.New("rate limited")
	ErrNotFound    = errors.New("not found")
)

// Error describes a failed backend call. Err is one of the sentinels above.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether a later trigger may succeed where err failed
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited)
}
