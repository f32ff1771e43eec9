package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/shehryarbajwa/chatsync/internal/store"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// edit runs fn through the store and, on a committed change, schedules a
// flush and notifies listeners.
func (m *Manager) edit(ctx context.Context, id string, fn store.Mutator) error {
	changed, err := m.store.Modify(ctx, id, fn)
	if err != nil {
		return err
	}
	if changed {
		m.markDirty(id)
		m.notify()
	}
	return nil
}

// UpdateTags replaces the tag set; tags are trimmed and deduplicated
func (m *Manager) UpdateTags(ctx context.Context, id string, tags []string) error {
	normalized := models.NormalizeTags(tags)
	return m.edit(ctx, id, func(_ context.Context, s *models.Session) error {
		s.Tags = normalized
		return nil
	})
}

// UpdateTitle renames a session. An empty title is rejected.
func (m *Manager) UpdateTitle(ctx context.Context, id, title string) error {
	title, err := models.ValidateTitle(title)
	if err != nil {
		return err
	}
	return m.edit(ctx, id, func(_ context.Context, s *models.Session) error {
		s.PageTitle = title
		return nil
	})
}

// SetFavorite flags or unflags a session
func (m *Manager) SetFavorite(ctx context.Context, id string, favorite bool) error {
	return m.edit(ctx, id, func(_ context.Context, s *models.Session) error {
		if s.IsFavorite == favorite {
			return store.ErrSkip
		}
		s.IsFavorite = favorite
		return nil
	})
}

// UpdatePage refreshes the page context captured for a session
func (m *Manager) UpdatePage(ctx context.Context, id string, page models.PageInfo) error {
	return m.edit(ctx, id, func(_ context.Context, s *models.Session) error {
		if page.Title != "" {
			s.PageTitle = page.Title
		}
		s.PageDescription = page.Description
		s.PageContent = page.Content
		return nil
	})
}

// AppendMessage adds msg to the end of the history. A zero timestamp is
// replaced with the current logical time.
func (m *Manager) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = m.clock.Now()
	}
	return m.edit(ctx, id, func(_ context.Context, s *models.Session) error {
		s.Messages = append(s.Messages, msg)
		return nil
	})
}

// EditMessage replaces the content of the message at index
func (m *Manager) EditMessage(ctx context.Context, id string, index int, content string) error {
	if strings.TrimSpace(content) == "" {
		return &models.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	return m.edit(ctx, id, func(_ context.Context, s *models.Session) error {
		if err := checkIndex(s, index); err != nil {
			return err
		}
		s.Messages[index].Content = content
		return nil
	})
}

// DeleteMessage removes the message at index
func (m *Manager) DeleteMessage(ctx context.Context, id string, index int) error {
	return m.edit(ctx, id, func(_ context.Context, s *models.Session) error {
		if err := checkIndex(s, index); err != nil {
			return err
		}
		s.Messages = append(s.Messages[:index], s.Messages[index+1:]...)
		return nil
	})
}

// MoveMessage moves the message at from so that it ends up at index to
func (m *Manager) MoveMessage(ctx context.Context, id string, from, to int) error {
	return m.edit(ctx, id, func(_ context.Context, s *models.Session) error {
		if err := checkIndex(s, from); err != nil {
			return err
		}
		if err := checkIndex(s, to); err != nil {
			return err
		}
		if from == to {
			return store.ErrSkip
		}
		msg := s.Messages[from]
		rest := append(s.Messages[:from:from], s.Messages[from+1:]...)
		s.Messages = append(rest[:to:to], append([]models.Message{msg}, rest[to:]...)...)
		return nil
	})
}

func validateMessage(msg models.Message) error {
	if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
		return &models.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", msg.Role)}
	}
	if strings.TrimSpace(msg.Content) == "" && msg.ImageRef == "" {
		return &models.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	return nil
}

func checkIndex(s *models.Session, index int) error {
	if index < 0 || index >= len(s.Messages) {
		return &models.ValidationError{Field: "index", Reason: fmt.Sprintf("%d out of range [0,%d)", index, len(s.Messages))}
	}
	return nil
}
