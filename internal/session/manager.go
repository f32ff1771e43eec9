// Package session owns the active-session pointer and orchestrates every
// user-facing operation on sessions: lifecycle, edits, replies, sync and
// import/export.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/chatsync/internal/clock"
	"github.com/shehryarbajwa/chatsync/internal/logger"
	"github.com/shehryarbajwa/chatsync/internal/persistence"
	"github.com/shehryarbajwa/chatsync/internal/remote"
	"github.com/shehryarbajwa/chatsync/internal/scheduler"
	"github.com/shehryarbajwa/chatsync/internal/store"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// Persister is the durable storage the manager writes state buckets to
type Persister interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetAll(ctx context.Context, key string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Listener receives the full session list after every change
type Listener func(sessions []models.Session)

// Config holds manager settings
type Config struct {
	// FlushWait bounds the best-effort flush of the previous session on Activate
	FlushWait time.Duration

	// AutoCreateDelay is the settle delay before auto-creating a session for a new page
	AutoCreateDelay time.Duration

	// RemoteEnabled turns on backend push and periodic resync
	RemoteEnabled bool

	// RemoteParallelism caps concurrent backend calls during flush and resync
	RemoteParallelism int

	// Confirm is asked before a delete that was not pre-confirmed. Nil confirms.
	Confirm func(id string) bool

	Scheduler *scheduler.Config
}

// DefaultConfig returns the stock settings
func DefaultConfig() *Config {
	return &Config{
		FlushWait:         2 * time.Second,
		AutoCreateDelay:   1500 * time.Millisecond,
		RemoteParallelism: 4,
		Scheduler:         scheduler.DefaultConfig(),
	}
}

// Manager is the session lifecycle manager
type Manager struct {
	config  *Config
	store   *store.Store
	persist Persister
	remote  remote.Client
	clock   clock.Clock
	sched   *scheduler.Scheduler
	log     *log.Logger

	switching *semaphore.Weighted

	mu             sync.Mutex
	activeID       string
	dirty          map[string]uint64 // id -> generation of the last mark
	dirtyGen       uint64
	pendingDeletes map[string]struct{}
	deleted        map[string]int64 // id -> logical time of the local delete
	inflight       map[string]map[uint64]context.CancelFunc
	inflightSeq    uint64
	listeners      map[int]Listener
	nextListener   int

	page pageTracker
}

// New wires a manager. rc may be nil when there is no backend.
func New(st *store.Store, persist Persister, rc remote.Client, clk clock.Clock, config *Config) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if persist == nil {
		return nil, fmt.Errorf("persister cannot be nil")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.RemoteParallelism <= 0 {
		config.RemoteParallelism = 4
	}
	if config.RemoteEnabled && rc == nil {
		return nil, fmt.Errorf("remote sync enabled without a remote client")
	}

	m := &Manager{
		config:         config,
		store:          st,
		persist:        persist,
		remote:         rc,
		clock:          clk,
		log:            logger.For("session"),
		switching:      semaphore.NewWeighted(1),
		dirty:          make(map[string]uint64),
		pendingDeletes: make(map[string]struct{}),
		deleted:        make(map[string]int64),
		inflight:       make(map[string]map[uint64]context.CancelFunc),
		listeners:      make(map[int]Listener),
	}

	var resync scheduler.ResyncFunc
	if m.remoteEnabled() {
		resync = m.resync
	}
	sched, err := scheduler.New(config.Scheduler, m.flush, resync)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	m.sched = sched
	return m, nil
}

func (m *Manager) remoteEnabled() bool {
	return m.config.RemoteEnabled && m.remote != nil
}

// Load restores sessions and the active pointer from storage. Each backend
// may hold a copy of the sessions bucket; only the newest snapshot is used,
// and duplicate records inside it collapse to the newest one. Backend
// deletes that had not gone through are restored as well.
func (m *Manager) Load(ctx context.Context) error {
	blobs, err := m.persist.GetAll(ctx, persistence.KeySessions)
	if err != nil {
		return fmt.Errorf("failed to read sessions bucket: %w", err)
	}

	snap, ok := latestSnapshot(blobs, func(err error) {
		m.log.Warn("Skipping unreadable sessions bucket", "error", err)
	})
	if ok {
		m.clock.Observe(snap.Seq)
		if skipped := m.store.Ingest(snap.Sessions...); skipped > 0 {
			m.log.Warn("Skipped invalid stored sessions", "count", skipped)
		}
		m.mu.Lock()
		for _, id := range snap.PendingDeletes {
			m.pendingDeletes[id] = struct{}{}
		}
		m.mu.Unlock()
	}
	if n := m.store.Compact(); n > 0 {
		m.log.Info("Collapsed duplicate sessions", "removed", n)
	}

	data, ok, err := m.persist.Get(ctx, persistence.KeyUIState)
	if err != nil {
		m.log.Warn("Failed to read UI state", "error", err)
	} else if ok {
		var ui models.UIState
		if err := json.Unmarshal(data, &ui); err != nil {
			m.log.Warn("Skipping unreadable UI state", "error", err)
		} else if _, exists := m.store.Get(ui.ActiveSessionID); exists {
			m.mu.Lock()
			m.activeID = ui.ActiveSessionID
			m.mu.Unlock()
		}
	}

	m.log.Info("Loaded sessions", "count", m.store.Len(), "active", m.ActiveID(), "pending_deletes", len(snap.PendingDeletes))
	m.notify()
	return nil
}

// Reload re-reads the sessions bucket after another process rewrote it and
// merges it into the store. Records of sessions deleted here are ignored
// unless they were edited after the delete.
func (m *Manager) Reload(ctx context.Context) error {
	blobs, err := m.persist.GetAll(ctx, persistence.KeySessions)
	if err != nil {
		return fmt.Errorf("failed to read sessions bucket: %w", err)
	}

	snap, ok := latestSnapshot(blobs, func(error) {})
	if !ok {
		return nil
	}

	changed := 0
	for _, s := range snap.Sessions {
		if m.isPendingDelete(s.ID) || m.deletedSince(s.ID, s.UpdatedAt) {
			continue
		}
		if m.store.ApplyRemote(s) {
			changed++
		}
	}
	if changed > 0 {
		m.log.Debug("Reloaded external changes", "sessions", changed)
		m.notify()
	}
	return nil
}

// Start begins periodic resync
func (m *Manager) Start() {
	m.sched.Start()
}

// Close cancels in-flight replies and auto-create timers, then flushes any
// pending state.
func (m *Manager) Close(ctx context.Context) error {
	m.page.stop()

	m.mu.Lock()
	for _, byToken := range m.inflight {
		for _, cancel := range byToken {
			cancel()
		}
	}
	m.mu.Unlock()

	return m.sched.Close(ctx)
}

// OnSessionsChanged registers fn and returns a function that removes it
func (m *Manager) OnSessionsChanged(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	sessions := m.Sessions()
	for _, fn := range listeners {
		fn(sessions)
	}
}

// Sessions returns every session, most recently updated first
func (m *Manager) Sessions() []models.Session {
	list := m.store.List(nil)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].UpdatedAt != list[j].UpdatedAt {
			return list[i].UpdatedAt > list[j].UpdatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Get returns a session by id
func (m *Manager) Get(id string) (models.Session, bool) {
	return m.store.Get(id)
}

// ActiveID returns the active session id, or "" when unset
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// CreateSession creates a session for page. A page without a URL yields a
// blank session with a synthetic unique URL.
func (m *Manager) CreateSession(_ context.Context, page models.PageInfo) (models.Session, error) {
	tmpl := models.Session{
		URL:             page.URL,
		PageTitle:       page.Title,
		PageDescription: page.Description,
		PageContent:     page.Content,
	}
	if tmpl.URL == "" {
		tmpl.URL = blankURL()
		tmpl.IsBlank = true
	}
	if tmpl.PageTitle == "" {
		tmpl.PageTitle = tmpl.URL
	}

	s, err := m.store.Create(tmpl.URL, tmpl)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	m.log.Info("Created session", "id", s.ID, "url", s.URL)
	m.markDirty(s.ID)
	m.notify()
	return s, nil
}
