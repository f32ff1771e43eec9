package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_Quota(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(10)

	require.NoError(t, m.Set(ctx, "a", []byte("12345")))
	require.NoError(t, m.Set(ctx, "a", []byte("1234567890")), "replacing a key does not count its old size")

	err := m.Set(ctx, "b", []byte("x"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	data, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1234567890", string(data))
}

func TestFileBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), 0)
	require.NoError(t, err)

	_, ok, err := fb.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fb.Set(ctx, KeySessions, []byte(`[]`)))
	data, ok, err := fb.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(data))
	assert.True(t, fb.WrittenByUs(KeySessions, data))
	assert.False(t, fb.WrittenByUs(KeySessions, []byte(`[1]`)))

	entries, err := os.ReadDir(fb.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed away")
}

func TestFileBackend_Quota(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), 8)
	require.NoError(t, err)

	require.NoError(t, fb.Set(ctx, KeyUIState, []byte("1234")))
	require.NoError(t, fb.Set(ctx, KeySessions, []byte("1234")))

	err = fb.Set(ctx, KeySessions, []byte("12345"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	data, _, _ := fb.Get(ctx, KeySessions)
	assert.Equal(t, "1234", string(data), "failed write leaves the old bucket intact")
}

func TestSQLiteBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, ok, err := db.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Set(ctx, KeySessions, []byte("v1")))
	require.NoError(t, db.Set(ctx, KeySessions, []byte("v2")))

	data, ok, err := db.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", string(data))
}

func TestSQLiteBackend_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fallback.db")

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, KeyUIState, []byte(`{"activeSessionId":"a"}`)))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	data, ok, err := db.Get(ctx, KeyUIState)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"activeSessionId":"a"}`, string(data))
}

func TestLayer_FlipsToFallbackOnQuota(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryBackend(4)
	fallback := NewMemoryBackend(0)
	l := NewLayer(primary, fallback)

	require.NoError(t, l.Set(ctx, KeySessions, []byte("abc")))
	assert.False(t, l.UsingFallback())
	assert.Equal(t, 1, primary.Writes())

	require.NoError(t, l.Set(ctx, KeySessions, []byte("too large")), "quota error is absorbed")
	assert.True(t, l.UsingFallback())
	assert.Equal(t, 1, fallback.Writes(), "payload replayed to fallback")

	// small payloads stay on fallback; no recovery within the process
	require.NoError(t, l.Set(ctx, KeySessions, []byte("a")))
	assert.Equal(t, 1, primary.Writes())
	assert.Equal(t, 2, fallback.Writes())

	data, ok, err := l.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", string(data))
}

type failingBackend struct {
	*MemoryBackend
	err error
}

func (f failingBackend) Set(context.Context, string, []byte) error { return f.err }

func TestLayer_OtherErrorsSurface(t *testing.T) {
	boom := errors.New("disk on fire")
	l := NewLayer(failingBackend{NewMemoryBackend(0), boom}, NewMemoryBackend(0))

	err := l.Set(context.Background(), KeySessions, []byte("x"))
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.UsingFallback())
}

func TestLayer_GetFallsThrough(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryBackend(0)
	fallback := NewMemoryBackend(0)
	require.NoError(t, fallback.Set(ctx, KeySessions, []byte("from-fallback")))

	l := NewLayer(primary, fallback)
	data, ok, err := l.Get(ctx, KeySessions)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-fallback", string(data))
}

func TestLayer_GetAll(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryBackend(0)
	fallback := NewMemoryBackend(0)
	require.NoError(t, primary.Set(ctx, KeySessions, []byte("p")))
	require.NoError(t, fallback.Set(ctx, KeySessions, []byte("f")))

	all, err := NewLayer(primary, fallback).GetAll(ctx, KeySessions)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("p"), []byte("f")}, all)
}

func TestWatcher_ReportsExternalWritesOnly(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), 0)
	require.NoError(t, err)

	w, err := NewWatcher(fb, ms(30))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, fb.Set(ctx, KeySessions, []byte(`[]`)))

	// another process rewrites the bucket
	other, err := NewFileBackend(fb.Dir(), 0)
	require.NoError(t, err)
	require.NoError(t, other.Set(ctx, KeySessions, []byte(`[{"id":"x"}]`)))

	select {
	case key := <-w.Events():
		assert.Equal(t, KeySessions, key)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an external write event")
	}
}

func TestWatcher_CoalescesBurstOfExternalWrites(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), 0)
	require.NoError(t, err)

	w, err := NewWatcher(fb, ms(80))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	other, err := NewFileBackend(fb.Dir(), 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, other.Set(ctx, KeySessions, []byte(fmt.Sprintf(`{"seq":%d}`, i))))
		time.Sleep(ms(10))
	}

	select {
	case key := <-w.Events():
		assert.Equal(t, KeySessions, key)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an external write event")
	}

	select {
	case key := <-w.Events():
		t.Fatalf("burst reported more than once: %s", key)
	case <-time.After(ms(300)):
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
