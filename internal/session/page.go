package session

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// pageTracker follows the page the widget is embedded in. autoCreated is the
// one-shot flag reset on every page load.
type pageTracker struct {
	mu          sync.Mutex
	identity    string
	autoCreated bool
	timer       *time.Timer
	closed      bool
}

func (p *pageTracker) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func blankURL() string {
	return models.BlankScheme + uuid.NewString()
}

// NormalizeURL reduces a page URL to the identity used to match sessions:
// scheme and host are lower-cased, the fragment and any trailing slash are
// dropped and the query is kept.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return strings.TrimRight(raw, "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// PageLoaded marks a fresh page load and re-arms the auto-create rule
func (m *Manager) PageLoaded() {
	m.page.mu.Lock()
	defer m.page.mu.Unlock()

	m.page.identity = ""
	m.page.autoCreated = false
	if m.page.timer != nil {
		m.page.timer.Stop()
		m.page.timer = nil
	}
}

// TrackPage reports the page currently shown. If a session already exists
// for it, that session is switched to. Otherwise, once per page load, a
// session is created after the settle delay provided the page has not
// changed again in the meantime.
func (m *Manager) TrackPage(ctx context.Context, page models.PageInfo) error {
	identity := NormalizeURL(page.URL)
	if identity == "" {
		return nil
	}

	m.page.mu.Lock()
	if m.page.closed || identity == m.page.identity {
		m.page.mu.Unlock()
		return nil
	}
	m.page.identity = identity
	if m.page.timer != nil {
		m.page.timer.Stop()
		m.page.timer = nil
	}
	m.page.mu.Unlock()

	if id := m.sessionForPage(identity); id != "" {
		if id == m.ActiveID() {
			return nil
		}
		_, err := m.Switch(ctx, id)
		return err
	}

	m.page.mu.Lock()
	defer m.page.mu.Unlock()
	if m.page.autoCreated || m.page.identity != identity {
		return nil
	}
	m.page.timer = time.AfterFunc(m.config.AutoCreateDelay, func() {
		m.autoCreate(identity, page)
	})
	return nil
}

func (m *Manager) autoCreate(identity string, page models.PageInfo) {
	m.page.mu.Lock()
	if m.page.closed || m.page.autoCreated || m.page.identity != identity {
		m.page.mu.Unlock()
		return
	}
	if m.sessionForPage(identity) != "" {
		m.page.mu.Unlock()
		return
	}
	m.page.autoCreated = true
	m.page.timer = nil
	m.page.mu.Unlock()

	ctx := context.Background()
	s, err := m.CreateSession(ctx, page)
	if err != nil {
		m.log.Warn("Auto-create failed", "url", page.URL, "error", err)
		return
	}
	if err := m.Activate(ctx, s.ID); err != nil {
		m.log.Warn("Failed to activate auto-created session", "id", s.ID, "error", err)
	}
}

// sessionForPage returns the most recently updated non-blank session whose
// URL normalizes to identity.
func (m *Manager) sessionForPage(identity string) string {
	var best models.Session
	for _, s := range m.store.List(func(s models.Session) bool {
		return !s.IsBlank && NormalizeURL(s.URL) == identity
	}) {
		if best.ID == "" || s.UpdatedAt > best.UpdatedAt {
			best = s
		}
	}
	return best.ID
}
