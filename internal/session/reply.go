package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/shehryarbajwa/chatsync/internal/store"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// ErrReplyCancelled is returned by RequestReply when the reply was abandoned
// before it could be appended.
var ErrReplyCancelled = errors.New("reply cancelled")

// Generator produces the assistant reply for a session's current history
type Generator interface {
	Generate(ctx context.Context, s models.Session) (models.Message, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, s models.Session) (models.Message, error)

func (f GeneratorFunc) Generate(ctx context.Context, s models.Session) (models.Message, error) {
	return f(ctx, s)
}

// RequestReply asks gen for the next assistant message and appends it to
// session id. The call is bound to id: activating another session or
// deleting this one cancels it. A cancelled reply leaves the history as it
// was; a completed one is appended whole and flushed immediately.
func (m *Manager) RequestReply(ctx context.Context, id string, gen Generator) (models.Message, error) {
	s, ok := m.store.Get(id)
	if !ok {
		return models.Message{}, fmt.Errorf("reply %s: %w", id, store.ErrNotFound)
	}

	ctx, release := m.bindReply(ctx, id)
	defer release()

	msg, err := gen.Generate(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return models.Message{}, fmt.Errorf("reply %s: %w", id, ErrReplyCancelled)
		}
		return models.Message{}, fmt.Errorf("reply %s: %w", id, err)
	}
	if msg.Role == "" {
		msg.Role = models.RoleAssistant
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = m.clock.Now()
	}

	appended, err := m.store.Modify(ctx, id, func(ctx context.Context, s *models.Session) error {
		if ctx.Err() != nil {
			return ErrReplyCancelled
		}
		s.Messages = append(s.Messages, msg)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrReplyCancelled) {
			return models.Message{}, fmt.Errorf("reply %s: %w", id, ErrReplyCancelled)
		}
		return models.Message{}, err
	}
	if !appended {
		// session deleted while the reply was generated
		return models.Message{}, fmt.Errorf("reply %s: %w", id, store.ErrNotFound)
	}

	m.mu.Lock()
	m.dirtyGen++
	m.dirty[id] = m.dirtyGen
	m.mu.Unlock()
	m.notify()

	// end of an exchange: skip coalescing
	if err := m.sched.FlushNow(context.WithoutCancel(ctx)); err != nil {
		m.log.Warn("Flush after reply failed", "session", id, "error", err)
	}
	return msg, nil
}

// bindReply registers a cancel func for id and returns the derived context
// with a release that unregisters it.
func (m *Manager) bindReply(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	m.inflightSeq++
	token := m.inflightSeq
	if m.inflight[id] == nil {
		m.inflight[id] = make(map[uint64]context.CancelFunc)
	}
	m.inflight[id][token] = cancel
	m.mu.Unlock()

	return ctx, func() {
		m.mu.Lock()
		delete(m.inflight[id], token)
		if len(m.inflight[id]) == 0 {
			delete(m.inflight, id)
		}
		m.mu.Unlock()
		cancel()
	}
}

// CancelReplies cancels every reply in flight for id
func (m *Manager) CancelReplies(id string) int {
	m.mu.Lock()
	byToken := m.inflight[id]
	cancels := make([]context.CancelFunc, 0, len(byToken))
	for _, cancel := range byToken {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		m.log.Debug("Cancelled replies", "session", id, "count", len(cancels))
	}
	return len(cancels)
}
