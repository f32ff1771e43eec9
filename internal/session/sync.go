package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/chatsync/internal/persistence"
	"github.com/shehryarbajwa/chatsync/internal/remote"
	"github.com/shehryarbajwa/chatsync/internal/resolver"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// markDirty flags id for the next backend push and schedules a flush.
func (m *Manager) markDirty(id string) {
	m.mu.Lock()
	m.dirtyGen++
	m.dirty[id] = m.dirtyGen
	m.mu.Unlock()

	m.sched.MarkDirty()
}

func (m *Manager) isDirty(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dirty[id]
	return ok
}

// DirtyIDs lists sessions whose latest edit has not reached the backend
func (m *Manager) DirtyIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func (m *Manager) isPendingDelete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pendingDeletes[id]
	return ok
}

// deletedSince reports whether id was deleted here at or after updatedAt, so
// a record carrying that timestamp predates the delete.
func (m *Manager) deletedSince(id string, updatedAt int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.deleted[id]
	return ok && updatedAt <= at
}

func (m *Manager) clearPendingDeletes(ids []string) {
	m.mu.Lock()
	for _, id := range ids {
		delete(m.pendingDeletes, id)
	}
	m.mu.Unlock()
}

// Save is the manual save: pending coalesced work is dropped in favour of an
// immediate flush. Local state is written even when the backend push fails;
// the push failure is returned.
func (m *Manager) Save(ctx context.Context) error {
	return m.sched.FlushNow(ctx)
}

// Resync lists the backend and merges anything newer. Without force the call
// is a no-op when the last successful listing is younger than the resync
// interval.
func (m *Manager) Resync(ctx context.Context, force bool) error {
	_, err := m.sched.Resync(ctx, force)
	return err
}

// flush writes the full store and UI state, then pushes dirty sessions and
// pending deletes to the backend.
func (m *Manager) flush(ctx context.Context) error {
	var errs []error

	if err := m.persistState(ctx); err != nil {
		errs = append(errs, err)
	}

	if m.remoteEnabled() {
		if err := m.pushDirty(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := m.pushDeletes(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) persistState(ctx context.Context) error {
	sessions := m.store.List(nil)
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	m.mu.Lock()
	pending := make([]string, 0, len(m.pendingDeletes))
	for id := range m.pendingDeletes {
		pending = append(pending, id)
	}
	m.mu.Unlock()
	sort.Strings(pending)

	data, err := json.Marshal(snapshot{
		Seq:            m.clock.Now(),
		Sessions:       sessions,
		PendingDeletes: pending,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	if err := m.persist.Set(ctx, persistence.KeySessions, data); err != nil {
		return fmt.Errorf("failed to persist sessions: %w", err)
	}

	ui, err := json.Marshal(models.UIState{ActiveSessionID: m.ActiveID()})
	if err != nil {
		return fmt.Errorf("failed to encode UI state: %w", err)
	}
	if err := m.persist.Set(ctx, persistence.KeyUIState, ui); err != nil {
		return fmt.Errorf("failed to persist UI state: %w", err)
	}
	return nil
}

// pushDirty saves every dirty session. A session stays dirty if its push
// failed or it was edited again while the push was in flight.
func (m *Manager) pushDirty(ctx context.Context) error {
	m.mu.Lock()
	marks := make(map[string]uint64, len(m.dirty))
	for id, gen := range m.dirty {
		marks[id] = gen
	}
	m.mu.Unlock()

	if len(marks) == 0 {
		return nil
	}

	var (
		errMu sync.Mutex
		errs  []error
	)
	var g errgroup.Group
	g.SetLimit(m.config.RemoteParallelism)

	for id, gen := range marks {
		s, ok := m.store.Get(id)
		if !ok {
			m.clearDirty(id, gen)
			continue
		}
		id, gen := id, gen
		g.Go(func() error {
			if err := m.remote.SaveSession(ctx, s); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("save %s: %w", id, err))
				errMu.Unlock()
				return nil
			}
			m.clearDirty(id, gen)
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		m.log.Debug("Backend push incomplete", "failed", len(errs), "attempted", len(marks))
	}
	return errors.Join(errs...)
}

func (m *Manager) clearDirty(id string, gen uint64) {
	m.mu.Lock()
	if m.dirty[id] == gen {
		delete(m.dirty, id)
	}
	m.mu.Unlock()
}

func (m *Manager) pushDeletes(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pendingDeletes))
	for id := range m.pendingDeletes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	err := m.remote.DeleteSessions(ctx, ids)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("delete %d sessions: %w", len(ids), err)
	}
	m.clearPendingDeletes(ids)
	return nil
}

// resync fetches full sessions for listings that are absent locally or
// newer than the local copy and merges them in. Only a failed listing is an
// error; individual fetch failures are logged and retried next time.
func (m *Manager) resync(ctx context.Context, force bool) error {
	summaries, err := m.remote.ListSessions(ctx, force)
	if err != nil {
		return fmt.Errorf("failed to list backend sessions: %w", err)
	}

	local := m.store.Snapshot()
	var fetch []string
	for _, sum := range summaries {
		if m.isPendingDelete(sum.ID) || m.deletedSince(sum.ID, sum.UpdatedAt) {
			continue
		}
		cur, ok := local[sum.ID]
		switch {
		case !ok || sum.UpdatedAt > cur.UpdatedAt:
			fetch = append(fetch, sum.ID)
		case cur.UpdatedAt > sum.UpdatedAt && !m.isDirty(sum.ID):
			// local edit the backend never received
			m.markDirty(sum.ID)
		}
	}

	fetched := m.fetchSessions(ctx, fetch, force)
	merged := resolver.Merge(local, fetched)

	applied := 0
	for _, id := range resolver.Changed(local, merged) {
		if m.isPendingDelete(id) || m.deletedSince(id, merged[id].UpdatedAt) {
			continue
		}
		if m.store.ApplyRemote(merged[id]) {
			applied++
		}
	}

	m.log.Debug("Resync complete", "listed", len(summaries), "fetched", len(fetched), "applied", applied)
	if applied > 0 {
		m.sched.MarkDirty()
		m.notify()
	}
	return nil
}

func (m *Manager) fetchSessions(ctx context.Context, ids []string, force bool) []models.Session {
	if len(ids) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		out = make([]models.Session, 0, len(ids))
	)
	var g errgroup.Group
	g.SetLimit(m.config.RemoteParallelism)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			s, err := m.remote.GetSession(ctx, id, force)
			if err != nil {
				if !errors.Is(err, remote.ErrNotFound) {
					m.log.Warn("Failed to fetch session", "id", id, "error", err)
				}
				return nil
			}
			mu.Lock()
			out = append(out, s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
