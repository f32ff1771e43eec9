package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

const (
	bulkBaseTimeout   = 10 * time.Second
	bulkPerItemBudget = 50 * time.Millisecond
)

// BulkTimeout is the deadline callers give an import or export of n sessions
func BulkTimeout(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return bulkBaseTimeout + time.Duration(n)*bulkPerItemBudget
}

// ImportSessions merges records into the store. A record for an unknown id
// is created; a record newer than the local copy replaces it; an older or
// equal one is ignored. Invalid records are counted as errors. When ctx ends
// the remaining records are counted as errors and ctx's error is returned.
func (m *Manager) ImportSessions(ctx context.Context, records []models.ImportRecord) (models.ImportResult, error) {
	var res models.ImportResult

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			res.Errors += len(records) - i
			m.log.Warn("Import interrupted", "imported", res.Created+res.Updated, "remaining", len(records)-i)
			m.finishImport(res)
			return res, fmt.Errorf("import interrupted: %w", err)
		}

		s := rec.Session
		if err := s.Validate(); err != nil {
			m.log.Debug("Skipping invalid import record", "index", i, "error", err)
			res.Errors++
			continue
		}

		_, existed := m.store.Get(s.ID)
		s.Version = 0
		if !m.store.ApplyRemote(s) {
			continue
		}
		if existed {
			res.Updated++
		} else {
			res.Created++
		}

		m.mu.Lock()
		delete(m.pendingDeletes, s.ID)
		delete(m.deleted, s.ID)
		m.dirtyGen++
		m.dirty[s.ID] = m.dirtyGen
		m.mu.Unlock()
	}

	m.finishImport(res)
	return res, nil
}

func (m *Manager) finishImport(res models.ImportResult) {
	m.log.Info("Imported sessions", "created", res.Created, "updated", res.Updated, "errors", res.Errors)
	if res.Created+res.Updated > 0 {
		m.sched.MarkDirty()
		m.notify()
	}
}

// ExportSessions returns the sessions matching filter ordered by id
func (m *Manager) ExportSessions(filter models.ExportFilter) []models.ExportRecord {
	sessions := m.store.List(filter.Match)
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	now := time.Now().UTC()
	out := make([]models.ExportRecord, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, models.ExportRecord{Session: s, ExportedAt: now})
	}
	return out
}
