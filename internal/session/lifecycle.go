package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/shehryarbajwa/chatsync/internal/store"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// Activate makes id the active session. Replies streaming into the previous
// session are cancelled and its pending edits are flushed with a bounded wait.
func (m *Manager) Activate(ctx context.Context, id string) error {
	if _, ok := m.store.Get(id); !ok {
		return fmt.Errorf("activate %s: %w", id, store.ErrNotFound)
	}

	prev := m.ActiveID()
	if prev != "" && prev != id {
		m.CancelReplies(prev)
		m.flushPrevious(ctx, prev)
	}

	// the flush may have suspended long enough for id to be deleted
	if !m.store.Touch(id) {
		return fmt.Errorf("activate %s: %w", id, store.ErrNotFound)
	}

	m.mu.Lock()
	m.activeID = id
	m.mu.Unlock()

	m.log.Debug("Activated session", "id", id, "previous", prev)
	m.sched.MarkDirty()
	m.notify()
	return nil
}

func (m *Manager) flushPrevious(ctx context.Context, prev string) {
	if !m.sched.Pending() && !m.isDirty(prev) {
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, m.config.FlushWait)
	defer cancel()
	if err := m.sched.FlushNow(flushCtx); err != nil {
		m.log.Warn("Flush on switch did not complete", "session", prev, "error", err)
	}
}

// Switch activates id unless another switch is still in flight, in which
// case the request is dropped and false is returned.
//
// TODO: decide whether a dropped switch should be queued instead; today a
// rapid second click on a different session is silently ignored.
func (m *Manager) Switch(ctx context.Context, id string) (bool, error) {
	if !m.switching.TryAcquire(1) {
		m.log.Debug("Switch dropped, another switch in flight", "id", id)
		return false, nil
	}
	defer m.switching.Release(1)

	if err := m.Activate(ctx, id); err != nil {
		return true, err
	}
	return true, nil
}

// Delete removes a session. Unless skipConfirm is set the configured
// confirmation hook is asked first; a refusal returns false. Deleting the
// active session moves the pointer to the most recently accessed remaining
// session, or unsets it.
func (m *Manager) Delete(ctx context.Context, id string, skipConfirm bool) (bool, error) {
	if _, ok := m.store.Get(id); !ok {
		return false, nil
	}
	if !skipConfirm && m.config.Confirm != nil && !m.config.Confirm(id) {
		return false, nil
	}

	m.CancelReplies(id)
	if err := m.store.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	m.afterDelete(id)
	m.log.Info("Deleted session", "id", id)
	m.sched.MarkDirty()
	m.notify()
	return true, nil
}

// BatchDelete removes every id that exists locally and asks the backend to
// delete them in one call. It reports how many were deleted and how many
// could not be; a backend failure is returned so the caller can surface it.
func (m *Manager) BatchDelete(ctx context.Context, ids []string) (deleted, failed int, err error) {
	var removed []string
	for _, id := range ids {
		m.CancelReplies(id)
		if err := m.store.Delete(id); err != nil {
			failed++
			continue
		}
		m.afterDelete(id)
		removed = append(removed, id)
	}
	deleted = len(removed)

	if deleted > 0 {
		m.log.Info("Deleted sessions", "count", deleted, "failed", failed)
		m.sched.MarkDirty()
		m.notify()
	}

	if deleted > 0 && m.remoteEnabled() {
		if rerr := m.remote.DeleteSessions(ctx, removed); rerr != nil {
			return deleted, failed, fmt.Errorf("backend delete: %w", rerr)
		}
		m.clearPendingDeletes(removed)
	}
	return deleted, failed, nil
}

// afterDelete drops sync bookkeeping for id and repoints the active session.
func (m *Manager) afterDelete(id string) {
	m.mu.Lock()
	delete(m.dirty, id)
	m.deleted[id] = m.clock.Now()
	if m.remoteEnabled() {
		m.pendingDeletes[id] = struct{}{}
	}
	wasActive := m.activeID == id
	m.mu.Unlock()

	if !wasActive {
		return
	}

	next := mostRecentlyAccessed(m.store.List(nil))
	m.mu.Lock()
	if m.activeID == id {
		m.activeID = next
	}
	m.mu.Unlock()
}

// mostRecentlyAccessed picks by lastAccessTime, using createdAt for sessions
// never accessed. Returns "" for an empty list.
func mostRecentlyAccessed(sessions []models.Session) string {
	var best models.Session
	var bestAt int64 = -1
	for _, s := range sessions {
		at := s.LastAccessTime
		if at == 0 {
			at = s.CreatedAt
		}
		if at > bestAt || (at == bestAt && s.ID < best.ID) {
			best, bestAt = s, at
		}
	}
	return best.ID
}

// Duplicate copies a session into a new one with an empty history and fresh
// timestamps. The copy has its own lifecycle.
func (m *Manager) Duplicate(_ context.Context, id string) (models.Session, error) {
	src, ok := m.store.Get(id)
	if !ok {
		return models.Session{}, fmt.Errorf("duplicate %s: %w", id, store.ErrNotFound)
	}

	tmpl := src.Clone()
	tmpl.Messages = []models.Message{}
	if tmpl.IsBlank {
		tmpl.URL = blankURL()
	}

	dup, err := m.store.Create(src.URL+"#copy", tmpl)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to duplicate session: %w", err)
	}

	m.log.Info("Duplicated session", "source", id, "id", dup.ID)
	m.markDirty(dup.ID)
	m.notify()
	return dup, nil
}
