package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/chatsync/internal/archive"
	"github.com/shehryarbajwa/chatsync/internal/clock"
	"github.com/shehryarbajwa/chatsync/internal/events"
	"github.com/shehryarbajwa/chatsync/internal/persistence"
	"github.com/shehryarbajwa/chatsync/internal/ratelimit"
	"github.com/shehryarbajwa/chatsync/internal/scheduler"
	"github.com/shehryarbajwa/chatsync/internal/session"
	"github.com/shehryarbajwa/chatsync/internal/store"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) (*httptest.Server, *session.Manager) {
	t.Helper()

	clk := clock.NewLogical()
	layer := persistence.NewLayer(persistence.NewMemoryBackend(0), persistence.NewMemoryBackend(0))
	cfg := session.DefaultConfig()
	cfg.AutoCreateDelay = 10 * time.Millisecond
	cfg.Scheduler = &scheduler.Config{Debounce: time.Minute, Throttle: time.Hour, ResyncInterval: time.Hour}

	mgr, err := session.New(store.New(clk), layer, nil, clk, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close(context.Background()) })

	hub := events.NewHub()
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(NewHandler(mgr).SetupRoutes(hub, limiter, 3600))
	t.Cleanup(srv.Close)
	return srv, mgr
}

func do(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAPI_SessionLifecycle(t *testing.T) {
	srv, mgr := newTestServer(t, nil)
	base := srv.URL + "/v1"

	resp := do(t, "POST", base+"/sessions", models.PageInfo{URL: "https://example.com", Title: "Example"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Session
	decodeBody(t, resp, &created)
	assert.Equal(t, "Example", created.PageTitle)

	resp = do(t, "POST", base+"/sessions/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, mgr.ActiveID())

	resp = do(t, "PUT", base+"/sessions/"+created.ID+"/tags", map[string]interface{}{"tags": []string{"docs", " docs"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tagged models.Session
	decodeBody(t, resp, &tagged)
	assert.Equal(t, []string{"docs"}, tagged.Tags)

	resp = do(t, "PUT", base+"/sessions/"+created.ID+"/title", map[string]string{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, "POST", base+"/sessions/"+created.ID+"/messages", models.Message{Role: models.RoleUser, Content: "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, "POST", base+"/sessions/"+created.ID+"/duplicate", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var dup models.Session
	decodeBody(t, resp, &dup)
	assert.Empty(t, dup.Messages)

	resp = do(t, "GET", base+"/sessions?tag=docs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list listResponse
	decodeBody(t, resp, &list)
	assert.Len(t, list.Sessions, 2)
	assert.Equal(t, created.ID, list.ActiveID)

	resp = do(t, "DELETE", base+"/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, dup.ID, mgr.ActiveID())

	resp = do(t, "GET", base+"/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, "POST", base+"/sessions/missing/activate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_BatchDeleteAndSave(t *testing.T) {
	srv, mgr := newTestServer(t, nil)
	base := srv.URL + "/v1"

	var ids []string
	for _, u := range []string{"https://a.example", "https://b.example"} {
		s, err := mgr.CreateSession(context.Background(), models.PageInfo{URL: u})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	resp := do(t, "POST", base+"/save", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, "POST", base+"/sessions:batchDelete", map[string][]string{"ids": append(ids, "nope")})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]int
	decodeBody(t, resp, &out)
	assert.Equal(t, 2, out["deleted"])
	assert.Equal(t, 1, out["failed"])

	resp = do(t, "POST", base+"/resync?force=true", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "resync without a backend is a no-op")
}

func TestAPI_PageTracking(t *testing.T) {
	srv, mgr := newTestServer(t, nil)

	resp := do(t, "POST", srv.URL+"/v1/page", map[string]interface{}{
		"url":    "https://example.com/article",
		"title":  "Article",
		"loaded": true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return mgr.ActiveID() != "" }, time.Second, 5*time.Millisecond)

	resp = do(t, "GET", srv.URL+"/v1/active", nil)
	var active map[string]string
	decodeBody(t, resp, &active)
	assert.Equal(t, mgr.ActiveID(), active["activeId"])
}

func TestAPI_ExportImportBundle(t *testing.T) {
	srv, mgr := newTestServer(t, nil)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, models.PageInfo{URL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateTags(ctx, s.ID, []string{"keep"}))
	_, err = mgr.CreateSession(ctx, models.PageInfo{URL: "https://other.example"})
	require.NoError(t, err)

	resp := do(t, "GET", srv.URL+"/v1/export?tag=keep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bundleContentType, resp.Header.Get("Content-Type"))

	var bundle bytes.Buffer
	_, err = bundle.ReadFrom(resp.Body)
	require.NoError(t, err)

	manifest, records, err := archive.Read(bytes.NewReader(bundle.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Count)
	require.Len(t, records, 1)
	assert.Equal(t, s.ID, records[0].Session.ID)

	// import into a fresh instance
	srv2, mgr2 := newTestServer(t, nil)
	req, err := http.NewRequest("POST", srv2.URL+"/v1/import", bytes.NewReader(bundle.Bytes()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", bundleContentType)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var res models.ImportResult
	decodeBody(t, resp2, &res)
	assert.Equal(t, models.ImportResult{Created: 1}, res)

	imported, ok := mgr2.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"keep"}, imported.Tags)
}

func TestAPI_ImportJSON(t *testing.T) {
	srv, mgr := newTestServer(t, nil)

	resp := do(t, "POST", srv.URL+"/v1/import", []models.ImportRecord{
		{Session: models.Session{ID: "x", URL: "https://x.example", CreatedAt: 1, UpdatedAt: 2}},
		{Session: models.Session{ID: ""}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res models.ImportResult
	decodeBody(t, resp, &res)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Errors)

	_, ok := mgr.Get("x")
	assert.True(t, ok)

	resp = do(t, "GET", srv.URL+"/v1/export?format=json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exported []models.ExportRecord
	decodeBody(t, resp, &exported)
	assert.Len(t, exported, 1)
}

func TestAPI_RateLimitPerClient(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.PerHour(3600), 2)
	srv, _ := newTestServer(t, limiter)

	get := func(client string) *http.Response {
		req, err := http.NewRequest("GET", srv.URL+"/v1/active", nil)
		require.NoError(t, err)
		req.Header.Set("X-Client-ID", client)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("a").StatusCode)
	assert.Equal(t, http.StatusOK, get("a").StatusCode)
	limited := get("a")
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
	assert.Equal(t, "0", limited.Header.Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, get("b").StatusCode, "limits are per client")
}

func TestAPI_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req, err := http.NewRequest("OPTIONS", srv.URL+"/v1/sessions", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "X-Client-ID"))
}
