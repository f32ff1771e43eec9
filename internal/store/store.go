// Package store holds the in-memory view of every session. It is the single
// source of truth that persistence, sync and the lifecycle manager consult.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/chatsync/internal/clock"
	"github.com/shehryarbajwa/chatsync/internal/resolver"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

const (
	maxIDAttempts     = 10
	maxUpdateAttempts = 5
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrIDExhausted     = errors.New("could not allocate a unique session id")
	ErrVersionConflict = errors.New("session changed concurrently")

	// ErrSkip may be returned by an Update mutator to leave the record untouched.
	ErrSkip = errors.New("skip update")
)

// Mutator edits a private copy of a session. It may block on I/O; the store
// re-validates the record after it returns.
type Mutator func(ctx context.Context, s *models.Session) error

// IDFunc derives a candidate id from a seed and the attempt number
type IDFunc func(seed string, attempt int) string

// Store is a mutex-guarded map of session id to records. Several records may
// share an id after a raw ingest; every read collapses them to the newest.
type Store struct {
	mu      sync.RWMutex
	records map[string][]models.Session
	clock   clock.Clock
	newID   IDFunc
}

// Option configures a Store
type Option func(*Store)

// WithIDFunc replaces the id generator
func WithIDFunc(fn IDFunc) Option {
	return func(s *Store) { s.newID = fn }
}

// New creates an empty store
func New(clk clock.Clock, opts ...Option) *Store {
	s := &Store{
		records: make(map[string][]models.Session),
		clock:   clk,
	}
	s.newID = s.hashID
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// hashID hashes a random value, the current logical time and the caller's seed.
func (s *Store) hashID(seed string, attempt int) string {
	h := sha256.New()
	h.Write([]byte(uuid.New().String()))
	h.Write([]byte(strconv.FormatInt(s.clock.Now(), 10)))
	h.Write([]byte(seed))
	if attempt > 0 {
		h.Write([]byte("#" + strconv.Itoa(attempt)))
	}
	return hex.EncodeToString(h.Sum(nil))[:20]
}

// Create allocates an id from seed and stores tmpl under it. Timestamps are
// reset to now and the version starts at 1.
func (s *Store) Create(seed string, tmpl models.Session) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate := s.newID(seed, attempt)
		if _, taken := s.records[candidate]; candidate != "" && !taken {
			id = candidate
			break
		}
	}
	if id == "" {
		return models.Session{}, ErrIDExhausted
	}

	now := s.clock.Now()
	sess := tmpl.Clone()
	sess.ID = id
	sess.Tags = models.NormalizeTags(sess.Tags)
	if sess.Messages == nil {
		sess.Messages = []models.Message{}
	}
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.LastAccessTime = now
	sess.Version = 1

	s.records[id] = []models.Session{sess}
	return sess.Clone(), nil
}

// Get returns the authoritative record for id
func (s *Store) Get(id string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best, ok := s.bestLocked(id)
	if !ok {
		return models.Session{}, false
	}
	return best.Clone(), true
}

// bestLocked picks the newest record for id; caller holds mu.
func (s *Store) bestLocked(id string) (models.Session, bool) {
	recs := s.records[id]
	if len(recs) == 0 {
		return models.Session{}, false
	}
	best := recs[0]
	for _, r := range recs[1:] {
		if resolver.Newer(r, best) {
			best = r
		}
	}
	return best, true
}

// Update runs fn against a copy of the session and commits the result if the
// record was not changed by anyone else in the meantime. A lost race re-runs
// fn on the fresh record. A session that vanished while fn ran is a no-op.
func (s *Store) Update(ctx context.Context, id string, fn Mutator) error {
	_, err := s.Modify(ctx, id, fn)
	return err
}

// Modify is Update that also reports whether a change was committed. It is
// false after ErrSkip or when the session vanished between attempts.
func (s *Store) Modify(ctx context.Context, id string, fn Mutator) (bool, error) {
	if _, ok := s.Get(id); !ok {
		return false, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		snap, ok := s.Get(id)
		if !ok {
			return false, nil
		}

		work := snap.Clone()
		if err := fn(ctx, &work); err != nil {
			if errors.Is(err, ErrSkip) {
				return false, nil
			}
			return false, err
		}

		committed, vanished := s.commit(id, snap.Version, work)
		if vanished {
			return false, nil
		}
		if committed {
			return true, nil
		}
	}
	return false, fmt.Errorf("update %s: %w", id, ErrVersionConflict)
}

// commit swaps in work if the stored version still equals expected.
func (s *Store) commit(id string, expected uint64, work models.Session) (committed, vanished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bestLocked(id)
	if !ok {
		return false, true
	}
	if cur.Version != expected {
		return false, false
	}

	work.ID = id
	work.CreatedAt = cur.CreatedAt
	work.Tags = models.NormalizeTags(work.Tags)
	work.UpdatedAt = s.clock.Now()
	if work.UpdatedAt <= cur.UpdatedAt {
		work.UpdatedAt = cur.UpdatedAt + 1
	}
	if work.LastAccessTime < cur.LastAccessTime {
		// Touch does not bump the version
		work.LastAccessTime = cur.LastAccessTime
	}
	work.Version = cur.Version + 1
	s.records[id] = []models.Session{work}
	return true, false
}

// Touch records an access without counting as a content mutation
func (s *Store) Touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bestLocked(id)
	if !ok {
		return false
	}
	cur.LastAccessTime = s.clock.Now()
	s.records[id] = []models.Session{cur}
	return true
}

// Delete removes every record for id
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

// List returns one record per id, newest wins, filtered by pred (nil keeps all).
func (s *Store) List(pred func(models.Session) bool) []models.Session {
	s.mu.RLock()
	all := make([]models.Session, 0, len(s.records))
	for _, recs := range s.records {
		for _, r := range recs {
			all = append(all, r.Clone())
		}
	}
	s.mu.RUnlock()

	deduped := resolver.Dedup(all)
	if pred == nil {
		return deduped
	}
	out := deduped[:0]
	for _, r := range deduped {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// Snapshot returns the deduplicated view keyed by id
func (s *Store) Snapshot() map[string]models.Session {
	list := s.List(nil)
	out := make(map[string]models.Session, len(list))
	for _, r := range list {
		out[r.ID] = r
	}
	return out
}

// Len counts distinct ids
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ingest appends raw records without collapsing duplicates. Invalid records
// are skipped and counted.
func (s *Store) Ingest(records ...models.Session) (skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := r.Validate(); err != nil {
			skipped++
			continue
		}
		r = r.Clone()
		r.Tags = models.NormalizeTags(r.Tags)
		s.records[r.ID] = append(s.records[r.ID], r)
		s.clock.Observe(r.UpdatedAt)
	}
	return skipped
}

// Compact collapses duplicate records in place
func (s *Store) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, recs := range s.records {
		if len(recs) < 2 {
			continue
		}
		best, _ := s.bestLocked(id)
		removed += len(recs) - 1
		s.records[id] = []models.Session{best}
	}
	return removed
}

// ApplyRemote installs r if no local record exists or r is strictly newer
// than the current one. The check runs under the lock so a local edit that
// landed after the caller's snapshot is never overwritten by older data.
func (s *Store) ApplyRemote(r models.Session) bool {
	if err := r.Validate(); err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bestLocked(r.ID)
	if ok && r.UpdatedAt <= cur.UpdatedAt {
		return false
	}

	r = r.Clone()
	r.Tags = models.NormalizeTags(r.Tags)
	if ok {
		r.Version = cur.Version + 1
		if r.LastAccessTime < cur.LastAccessTime {
			r.LastAccessTime = cur.LastAccessTime
		}
	} else {
		r.Version = 1
	}
	s.records[r.ID] = []models.Session{r}
	s.clock.Observe(r.UpdatedAt)
	return true
}
