// Package resolver reconciles session collections. Everything here is pure:
// inputs are never mutated and results depend only on the arguments.
package resolver

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// Newer reports whether a should be kept over b when both claim the same id.
// Order: updatedAt, then createdAt, then id, then version, then encoded
// content, so any two distinct records have exactly one winner.
func Newer(a, b models.Session) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	if a.ID != b.ID {
		return a.ID > b.ID
	}
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return bytes.Compare(encode(a), encode(b)) > 0
}

func encode(s models.Session) []byte {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return data
}

// Dedup collapses records sharing an id down to the newest one. The result
// is sorted by id.
func Dedup(sessions []models.Session) []models.Session {
	best := make(map[string]models.Session, len(sessions))
	for _, s := range sessions {
		cur, ok := best[s.ID]
		if !ok || Newer(s, cur) {
			best[s.ID] = s
		}
	}

	out := make([]models.Session, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Merge folds a remote listing into the local map.
//
// Remote records absent locally are inserted. For ids present on both sides
// the remote record replaces the local one only when its updatedAt is
// strictly greater. Local-only entries are always kept because a remote
// listing may be partial.
func Merge(local map[string]models.Session, remote []models.Session) map[string]models.Session {
	out := make(map[string]models.Session, len(local)+len(remote))
	for id, s := range local {
		out[id] = s
	}

	for _, r := range Dedup(remote) {
		cur, ok := out[r.ID]
		if !ok || r.UpdatedAt > cur.UpdatedAt {
			out[r.ID] = r
		}
	}
	return out
}

// Changed lists the ids whose record differs between before and after.
func Changed(before, after map[string]models.Session) []string {
	var ids []string
	for id, a := range after {
		b, ok := before[id]
		if !ok || b.UpdatedAt != a.UpdatedAt || b.Version != a.Version {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
