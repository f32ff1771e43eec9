package models

import "time"

// ImportRecord is one session handed over by the import collaborator
type ImportRecord struct {
	Session Session `json:"session"`
}

// ExportRecord is one session handed to the export collaborator
type ExportRecord struct {
	Session    Session   `json:"session"`
	ExportedAt time.Time `json:"exportedAt"`
}

// ExportFilter selects sessions for export. Zero values match everything.
type ExportFilter struct {
	IDs          []string `json:"ids,omitempty" yaml:"ids,omitempty"`
	Tag          string   `json:"tag,omitempty" yaml:"tag,omitempty"`
	FavoriteOnly bool     `json:"favoriteOnly,omitempty" yaml:"favoriteOnly,omitempty"`
}

// Match reports whether s passes the filter
func (f ExportFilter) Match(s Session) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == s.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Tag != "" && !s.HasTag(f.Tag) {
		return false
	}
	if f.FavoriteOnly && !s.IsFavorite {
		return false
	}
	return true
}

// ImportResult reports the outcome of a bulk import
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// UIState is persisted in its own bucket next to the sessions
type UIState struct {
	ActiveSessionID string `json:"activeSessionId,omitempty"`
}
