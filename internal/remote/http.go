package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shehryarbajwa/chatsync/internal/ratelimit"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

const limiterKey = "backend"

// HTTPConfig configures an HTTPClient
type HTTPConfig struct {
	BaseURL string
	Token   string

	// RatePerSecond and Burst shape outgoing calls; the backend rate-limits too
	RatePerSecond float64
	Burst         int

	// CacheTTL is how long a listing or fetched session is reused when the
	// caller does not force a refresh
	CacheTTL time.Duration

	Timeout time.Duration
}

type cached[T any] struct {
	value T
	at    time.Time
}

// HTTPClient implements Client over JSON/HTTP
type HTTPClient struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *ratelimit.Limiter
	ttl     time.Duration

	mu       sync.Mutex
	list     *cached[[]models.SessionSummary]
	sessions map[string]cached[models.Session]
}

// NewHTTPClient creates a client for the backend at cfg.BaseURL
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &HTTPClient{
		base:     base,
		token:    cfg.Token,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  ratelimit.NewLimiter(cfg.RatePerSecond, cfg.Burst),
		ttl:      cfg.CacheTTL,
		sessions: make(map[string]cached[models.Session]),
	}, nil
}

// ListSessions implements Client.
func (c *HTTPClient) ListSessions(ctx context.Context, forceRefresh bool) ([]models.SessionSummary, error) {
	if !forceRefresh {
		c.mu.Lock()
		if c.list != nil && time.Since(c.list.at) < c.ttl {
			out := append([]models.SessionSummary(nil), c.list.value...)
			c.mu.Unlock()
			return out, nil
		}
		c.mu.Unlock()
	}

	var out []models.SessionSummary
	if err := c.do(ctx, "list", http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.list = &cached[[]models.SessionSummary]{value: out, at: time.Now()}
	c.mu.Unlock()
	return append([]models.SessionSummary(nil), out...), nil
}

// GetSession implements Client.
func (c *HTTPClient) GetSession(ctx context.Context, id string, forceRefresh bool) (models.Session, error) {
	if !forceRefresh {
		c.mu.Lock()
		if hit, ok := c.sessions[id]; ok && time.Since(hit.at) < c.ttl {
			c.mu.Unlock()
			return hit.value.Clone(), nil
		}
		c.mu.Unlock()
	}

	var s models.Session
	if err := c.do(ctx, "get", http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &s); err != nil {
		return models.Session{}, err
	}

	c.mu.Lock()
	c.sessions[id] = cached[models.Session]{value: s.Clone(), at: time.Now()}
	c.mu.Unlock()
	return s, nil
}

// SaveSession implements Client.
func (c *HTTPClient) SaveSession(ctx context.Context, s models.Session) error {
	if err := c.do(ctx, "save", http.MethodPut, "/sessions/"+url.PathEscape(s.ID), s, nil); err != nil {
		return err
	}
	c.invalidate(s.ID)
	return nil
}

// DeleteSession implements Client.
func (c *HTTPClient) DeleteSession(ctx context.Context, id string) error {
	if err := c.do(ctx, "delete", http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil); err != nil {
		return err
	}
	c.invalidate(id)
	return nil
}

// DeleteSessions implements Client.
func (c *HTTPClient) DeleteSessions(ctx context.Context, ids []string) error {
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	if err := c.do(ctx, "batch delete", http.MethodPost, "/sessions/delete", body, nil); err != nil {
		return err
	}
	c.invalidate(ids...)
	return nil
}

func (c *HTTPClient) invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = nil
	for _, id := range ids {
		delete(c.sessions, id)
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrRateLimited, err)}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	defer resp.Body.Close()

	if sentinel := statusError(resp.StatusCode); sentinel != nil {
		io.Copy(io.Discard, resp.Body)
		return &Error{Op: op, Status: resp.StatusCode, Err: sentinel}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%w: decode: %v", ErrNetwork, err)}
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrNetwork
	}
}
