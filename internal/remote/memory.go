package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// MemoryClient is an in-process backend. It serves the backend router and
// stands in for a real server in tests.
type MemoryClient struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	fail     error
	calls    map[string]int

	// BeforeCall runs at the start of every call with the operation name.
	// Tests use it to block or inspect in-flight calls.
	BeforeCall func(ctx context.Context, op string) error
}

// NewMemoryClient creates an empty backend
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		sessions: make(map[string]models.Session),
		calls:    make(map[string]int),
	}
}

// SetFailure makes every later call fail with err until cleared with nil
func (m *MemoryClient) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Calls returns how many times op was invoked
func (m *MemoryClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores s directly, bypassing call accounting
func (m *MemoryClient) Put(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
}

// Stored returns the backend's copy of id
func (m *MemoryClient) Stored(id string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s.Clone(), ok
}

func (m *MemoryClient) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	fail := m.fail
	hook := m.BeforeCall
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		return &Error{Op: op, Err: fail}
	}
	return nil
}

// ListSessions implements Client.
func (m *MemoryClient) ListSessions(ctx context.Context, _ bool) ([]models.SessionSummary, error) {
	if err := m.enter(ctx, "list"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSession implements Client.
func (m *MemoryClient) GetSession(ctx context.Context, id string, _ bool) (models.Session, error) {
	if err := m.enter(ctx, "get"); err != nil {
		return models.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.Session{}, &Error{Op: "get", Err: ErrNotFound}
	}
	return s.Clone(), nil
}

// SaveSession implements Client.
func (m *MemoryClient) SaveSession(ctx context.Context, s models.Session) error {
	if err := m.enter(ctx, "save"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

// DeleteSession implements Client.
func (m *MemoryClient) DeleteSession(ctx context.Context, id string) error {
	if err := m.enter(ctx, "delete"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return &Error{Op: "delete", Err: ErrNotFound}
	}
	delete(m.sessions, id)
	return nil
}

// DeleteSessions implements Client. Missing ids are ignored.
func (m *MemoryClient) DeleteSessions(ctx context.Context, ids []string) error {
	if err := m.enter(ctx, "batch delete"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.sessions, id)
	}
	return nil
}
