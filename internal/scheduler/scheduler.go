// Package scheduler decides when local session changes are written to
// storage and pushed to the backend, and when the backend is re-listed.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/shehryarbajwa/chatsync/internal/logger"
)

// FlushFunc writes the full local state and pushes dirty sessions
type FlushFunc func(ctx context.Context) error

// ResyncFunc lists the backend and merges the result
type ResyncFunc func(ctx context.Context, force bool) error

// Config holds scheduler timing
type Config struct {
	// Debounce is the quiet period after the last mutation before a write
	Debounce time.Duration

	// Throttle bounds staleness under continuous mutation
	Throttle time.Duration

	// ResyncInterval is the minimum gap between backend listings
	ResyncInterval time.Duration

	// Now is the time source; defaults to time.Now
	Now func() time.Time
}

// DefaultConfig returns the stock timings
func DefaultConfig() *Config {
	return &Config{
		Debounce:       time.Second,
		Throttle:       5 * time.Second,
		ResyncInterval: 10 * time.Second,
	}
}

// Scheduler drives the debounce machine with a single timer and runs the
// periodic resync loop.
type Scheduler struct {
	config *Config
	flush  FlushFunc
	resync ResyncFunc
	log    *log.Logger

	mu       sync.Mutex
	m        *machine
	timer    *time.Timer
	lastList time.Time
	closed   bool

	flushMu  sync.Mutex // one flush at a time
	resyncMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. resync may be nil when backend sync is disabled.
func New(config *Config, flush FlushFunc, resync ResyncFunc) (*Scheduler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if flush == nil {
		return nil, fmt.Errorf("flush cannot be nil")
	}
	if config.Debounce <= 0 || config.Throttle <= 0 {
		return nil, fmt.Errorf("debounce and throttle must be positive")
	}
	if config.Throttle < config.Debounce {
		return nil, fmt.Errorf("throttle (%s) must not be shorter than debounce (%s)", config.Throttle, config.Debounce)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config: config,
		flush:  flush,
		resync: resync,
		log:    logger.For("scheduler"),
		m:      newMachine(config.Debounce, config.Throttle),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// State returns the current machine state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.state
}

// MarkDirty records a local mutation. The flush happens after the debounce
// window, or right away once the first pending mutation is older than the
// throttle window.
func (s *Scheduler) MarkDirty() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	now := s.config.Now()
	if s.m.markDirty(now) {
		s.stopTimerLocked()
		s.goFlushLocked()
		s.mu.Unlock()
		s.log.Debug("Max wait reached, forcing flush")
		return
	}
	s.armTimerLocked(now)
	s.mu.Unlock()
}

// FlushNow bypasses coalescing: any pending flush is cancelled and a flush
// runs synchronously. Used at critical sync points.
func (s *Scheduler) FlushNow(ctx context.Context) error {
	s.mu.Lock()
	s.m.reset()
	s.stopTimerLocked()
	s.mu.Unlock()

	return s.runFlush(ctx)
}

// Pending reports whether a coalesced flush is waiting
func (s *Scheduler) Pending() bool {
	return s.State() != Idle
}

func (s *Scheduler) armTimerLocked(now time.Time) {
	wait := s.m.deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(wait, s.onTimer)
		return
	}
	s.timer.Reset(wait)
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Scheduler) onTimer() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	now := s.config.Now()
	if !s.m.due(now) {
		// A MarkDirty moved the deadline after the timer had already fired.
		if s.m.state != Idle {
			s.armTimerLocked(now)
		}
		s.mu.Unlock()
		return
	}
	s.m.reset()
	s.goFlushLocked()
	s.mu.Unlock()
}

// goFlushLocked starts a background flush. The caller holds mu and has
// checked closed, so Close cannot be waiting on wg yet.
func (s *Scheduler) goFlushLocked() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.runFlush(s.ctx); err != nil {
			s.log.Warn("Background flush failed", "error", err)
		}
	}()
}

func (s *Scheduler) runFlush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.flush(ctx)
}

// Resync lists the backend unless the last successful listing started less
// than the resync interval ago. force skips the interval check. It reports
// whether a listing was attempted.
func (s *Scheduler) Resync(ctx context.Context, force bool) (bool, error) {
	return s.resyncGated(ctx, force, 0)
}

// resyncGated is Resync with slack taken off the interval check. Listings
// are stamped with their start time.
func (s *Scheduler) resyncGated(ctx context.Context, force bool, slack time.Duration) (bool, error) {
	if s.resync == nil {
		return false, nil
	}

	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	s.mu.Lock()
	last := s.lastList
	s.mu.Unlock()

	started := s.config.Now()
	if !force && !last.IsZero() && started.Sub(last) < s.config.ResyncInterval-slack {
		return false, nil
	}

	if err := s.resync(ctx, force); err != nil {
		return true, err
	}

	s.mu.Lock()
	s.lastList = started
	s.mu.Unlock()
	return true, nil
}

// Start runs the periodic resync loop until Close. Each tick tolerates a
// quarter interval of jitter, so a tick is not skipped because the previous
// one was delivered late.
func (s *Scheduler) Start() {
	if s.resync == nil || s.config.ResyncInterval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.config.ResyncInterval)
		defer ticker.Stop()

		slack := s.config.ResyncInterval / 4
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.resyncGated(s.ctx, false, slack); err != nil {
					s.log.Warn("Periodic resync failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the timers and loops. A pending flush is run once before
// returning so no coalesced edit is lost on shutdown.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.m.state != Idle
	s.m.reset()
	s.stopTimerLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if pending {
		return s.runFlush(ctx)
	}
	return nil
}
