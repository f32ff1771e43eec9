package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

func TestBulkTimeout(t *testing.T) {
	assert.Equal(t, 10*time.Second, BulkTimeout(0))
	assert.Equal(t, 15*time.Second, BulkTimeout(100))
	assert.Equal(t, 10*time.Second, BulkTimeout(-3))
}

func TestImportSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.store.Ingest(
		models.Session{ID: "old", URL: "u1", PageTitle: "before", CreatedAt: 1, UpdatedAt: 10},
		models.Session{ID: "fresh", URL: "u2", PageTitle: "local", CreatedAt: 1, UpdatedAt: 90},
	)

	res, err := h.m.ImportSessions(ctx, []models.ImportRecord{
		{Session: models.Session{ID: "new", URL: "u3", CreatedAt: 1, UpdatedAt: 5}},
		{Session: models.Session{ID: "old", URL: "u1", PageTitle: "after", CreatedAt: 1, UpdatedAt: 20}},
		{Session: models.Session{ID: "fresh", URL: "u2", PageTitle: "stale", CreatedAt: 1, UpdatedAt: 30}},
		{Session: models.Session{ID: "", URL: "bad"}},
		{Session: models.Session{ID: "backwards", CreatedAt: 9, UpdatedAt: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ImportResult{Created: 1, Updated: 1, Errors: 2}, res)

	old, _ := h.m.Get("old")
	assert.Equal(t, "after", old.PageTitle)
	fresh, _ := h.m.Get("fresh")
	assert.Equal(t, "local", fresh.PageTitle)
	assert.ElementsMatch(t, []string{"new", "old"}, h.m.DirtyIDs())
}

func TestImportSessions_ContextEnded(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.m.ImportSessions(ctx, []models.ImportRecord{
		{Session: models.Session{ID: "a", CreatedAt: 1, UpdatedAt: 1}},
		{Session: models.Session{ID: "b", CreatedAt: 1, UpdatedAt: 1}},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, res.Errors)
	assert.Empty(t, h.m.Sessions())
}

func TestExportSessions(t *testing.T) {
	h := newHarness(t)

	h.m.store.Ingest(
		models.Session{ID: "b", URL: "u", Tags: []string{"work"}, IsFavorite: true, CreatedAt: 1, UpdatedAt: 2},
		models.Session{ID: "a", URL: "u", Tags: []string{"work"}, CreatedAt: 1, UpdatedAt: 2},
		models.Session{ID: "c", URL: "u", Tags: []string{"home"}, CreatedAt: 1, UpdatedAt: 2},
	)

	all := h.m.ExportSessions(models.ExportFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Session.ID)
	assert.False(t, all[0].ExportedAt.IsZero())

	work := h.m.ExportSessions(models.ExportFilter{Tag: "work"})
	assert.Len(t, work, 2)

	fav := h.m.ExportSessions(models.ExportFilter{Tag: "work", FavoriteOnly: true})
	require.Len(t, fav, 1)
	assert.Equal(t, "b", fav[0].Session.ID)

	picked := h.m.ExportSessions(models.ExportFilter{IDs: []string{"c", "zzz"}})
	require.Len(t, picked, 1)
	assert.Equal(t, "c", picked[0].Session.ID)
}
