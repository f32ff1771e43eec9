package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

func session(id string, updated int64) models.Session {
	return models.Session{ID: id, PageTitle: id, CreatedAt: 1, UpdatedAt: updated}
}

func TestDedup(t *testing.T) {
	tests := []struct {
		name  string
		input []models.Session
		want  map[string]int64
	}{
		{
			name:  "empty",
			input: nil,
			want:  map[string]int64{},
		},
		{
			name:  "no duplicates",
			input: []models.Session{session("a", 1), session("b", 2)},
			want:  map[string]int64{"a": 1, "b": 2},
		},
		{
			name:  "keeps greatest updatedAt",
			input: []models.Session{session("dup", 10), session("dup", 20), session("dup", 15)},
			want:  map[string]int64{"dup": 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dedup(tt.input)
			require.Len(t, got, len(tt.want))
			for _, s := range got {
				assert.Equal(t, tt.want[s.ID], s.UpdatedAt)
			}
		})
	}
}

func TestDedup_TieBrokenByCreatedAt(t *testing.T) {
	older := models.Session{ID: "x", CreatedAt: 1, UpdatedAt: 10, PageTitle: "old"}
	newer := models.Session{ID: "x", CreatedAt: 2, UpdatedAt: 10, PageTitle: "new"}

	got := Dedup([]models.Session{newer, older})
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].PageTitle)

	got = Dedup([]models.Session{older, newer})
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].PageTitle)
}

func TestDedup_Idempotent(t *testing.T) {
	input := []models.Session{
		session("a", 3), session("a", 9), session("b", 1),
		{ID: "b", CreatedAt: 1, UpdatedAt: 1, PageTitle: "same-time-different-body"},
		session("c", 4),
	}

	once := Dedup(input)
	twice := Dedup(once)
	assert.Equal(t, once, twice)
}

func TestDedup_OrderIndependent(t *testing.T) {
	a := models.Session{ID: "t", CreatedAt: 1, UpdatedAt: 5, PageTitle: "alpha"}
	b := models.Session{ID: "t", CreatedAt: 1, UpdatedAt: 5, PageTitle: "beta"}

	assert.Equal(t, Dedup([]models.Session{a, b}), Dedup([]models.Session{b, a}))
}

func TestMerge_InsertsRemoteOnly(t *testing.T) {
	local := map[string]models.Session{"a": session("a", 1)}
	got := Merge(local, []models.Session{session("b", 2)})

	assert.Len(t, got, 2)
	assert.Contains(t, got, "b")
}

func TestMerge_LocalNewerKept(t *testing.T) {
	s1 := session("S1", 100)
	s1.PageTitle = "local"
	remote := session("S1", 50)
	remote.PageTitle = "remote"

	got := Merge(map[string]models.Session{"S1": s1}, []models.Session{remote})

	assert.Equal(t, s1, got["S1"])
}

func TestMerge_RemoteNewerWins(t *testing.T) {
	local := session("S1", 50)
	remote := session("S1", 100)
	remote.PageTitle = "remote"

	got := Merge(map[string]models.Session{"S1": local}, []models.Session{remote})

	assert.Equal(t, "remote", got["S1"].PageTitle)
}

func TestMerge_TieFavorsLocal(t *testing.T) {
	local := session("S1", 70)
	local.PageTitle = "local"
	remote := session("S1", 70)
	remote.PageTitle = "remote"

	got := Merge(map[string]models.Session{"S1": local}, []models.Session{remote})
	assert.Equal(t, "local", got["S1"].PageTitle)
}

func TestMerge_CommutativeOnDistinctTimestamps(t *testing.T) {
	a := session("id", 10)
	a.PageTitle = "a"
	b := session("id", 20)
	b.PageTitle = "b"

	ab := Merge(map[string]models.Session{"id": a}, []models.Session{b})
	ba := Merge(map[string]models.Session{"id": b}, []models.Session{a})

	assert.Equal(t, ab, ba)
	assert.Equal(t, "b", ab["id"].PageTitle)
}

func TestMerge_NeverDropsLocalOnly(t *testing.T) {
	local := map[string]models.Session{
		"keep": session("keep", 1),
		"both": session("both", 1),
	}
	got := Merge(local, []models.Session{session("both", 2)})

	assert.Contains(t, got, "keep")
	assert.Len(t, got, 2)
}

func TestMerge_Idempotent(t *testing.T) {
	local := map[string]models.Session{
		"a": session("a", 5),
		"b": session("b", 9),
	}
	remote := []models.Session{session("a", 7), session("b", 3), session("c", 1), session("c", 4)}

	once := Merge(local, remote)
	twice := Merge(once, remote)
	assert.Equal(t, once, twice)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	local := map[string]models.Session{"a": session("a", 1)}
	_ = Merge(local, []models.Session{session("a", 5), session("z", 1)})

	assert.Len(t, local, 1)
	assert.Equal(t, int64(1), local["a"].UpdatedAt)
}

func TestChanged(t *testing.T) {
	before := map[string]models.Session{"a": session("a", 1), "b": session("b", 1)}
	after := Merge(before, []models.Session{session("b", 2), session("c", 1)})

	assert.Equal(t, []string{"b", "c"}, Changed(before, after))
}
