package models

import (
	"fmt"
	"strings"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlankScheme is the synthetic URL scheme given to sessions created without a page
const BlankScheme = "blank-session://"

// Message is a single entry in a session's history
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	ImageRef  string `json:"imageRef,omitempty"`
}

// Session is the unit of persistence and sync: page context, tags and message history
type Session struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	PageTitle       string    `json:"pageTitle"`
	PageDescription string    `json:"pageDescription,omitempty"`
	PageContent     string    `json:"pageContent,omitempty"`
	Tags            []string  `json:"tags"`
	IsFavorite      bool      `json:"isFavorite"`
	Messages        []Message `json:"messages"`
	CreatedAt       int64     `json:"createdAt"`
	UpdatedAt       int64     `json:"updatedAt"`
	LastAccessTime  int64     `json:"lastAccessTime"`
	IsBlank         bool      `json:"isBlank,omitempty"`

	// Version is bumped on every committed local write. It guards
	// read-modify-write cycles and is not part of conflict resolution.
	Version uint64 `json:"version"`
}

// SessionSummary is the lightweight form returned by a remote listing
type SessionSummary struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	PageTitle    string   `json:"pageTitle"`
	Tags         []string `json:"tags"`
	MessageCount int      `json:"messageCount"`
	CreatedAt    int64    `json:"createdAt"`
	UpdatedAt    int64    `json:"updatedAt"`
}

// PageInfo describes the page a session is created for
type PageInfo struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (s Session) Clone() Session {
	out := s
	if s.Tags != nil {
		out.Tags = append([]string(nil), s.Tags...)
	}
	if s.Messages != nil {
		out.Messages = append([]Message(nil), s.Messages...)
	}
	return out
}

// Summary projects a session onto its listing form
func (s Session) Summary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		URL:          s.URL,
		PageTitle:    s.PageTitle,
		Tags:         append([]string(nil), s.Tags...),
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// HasTag reports whether the session carries tag
func (s Session) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants a session must hold before it
// enters the store.
func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if s.UpdatedAt < s.CreatedAt {
		return &ValidationError{Field: "updatedAt", Reason: "must not precede createdAt"}
	}
	for i, m := range s.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return &ValidationError{Field: fmt.Sprintf("messages[%d].role", i), Reason: fmt.Sprintf("unknown role %q", m.Role)}
		}
	}
	return nil
}

// NormalizeTags trims every tag, drops empties and removes duplicates while
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ValidateTitle rejects titles that are empty after trimming
func ValidateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", &ValidationError{Field: "pageTitle", Reason: "must not be empty"}
	}
	return title, nil
}
