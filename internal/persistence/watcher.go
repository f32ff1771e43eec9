package persistence

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/shehryarbajwa/chatsync/internal/logger"
)

// DefaultWatchDebounce is how long a bucket must stay quiet before it is
// reported
const DefaultWatchDebounce = 100 * time.Millisecond

// Watcher reports buckets in a FileBackend directory that were rewritten by
// another process. Writes made through the same FileBackend are ignored, and
// a burst of writes to one bucket is reported once it has been quiet for the
// debounce interval.
type Watcher struct {
	backend  *FileBackend
	watcher  *fsnotify.Watcher
	debounce time.Duration
	queue    map[string]time.Time // key -> last change seen
	events   chan string
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *log.Logger
}

// NewWatcher creates a watcher for fb. Start must be called before it emits.
// debounce <= 0 uses DefaultWatchDebounce.
func NewWatcher(fb *FileBackend, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		backend:  fb,
		watcher:  w,
		debounce: debounce,
		queue:    make(map[string]time.Time),
		events:   make(chan string, 16),
		done:    make(chan struct{}),
		log:     logger.For("watcher"),
	}, nil
}

// Start begins watching the backend directory
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(w.backend.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.backend.Dir(), err)
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends the watch and closes the events channel
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	close(w.events)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events emits the keys of externally modified buckets
func (w *Watcher) Events() <-chan string {
	return w.events
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if key, ok := w.backend.keyFromPath(event.Name); ok {
				w.queue[key] = time.Now()
			}

		case <-ticker.C:
			if !w.processQueue() {
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("Watcher error", "error", err)
		}
	}
}

// processQueue reports buckets that have been quiet for the debounce
// interval. It returns false once the watcher is stopping.
func (w *Watcher) processQueue() bool {
	now := time.Now()
	for key, changedAt := range w.queue {
		if now.Sub(changedAt) < w.debounce {
			continue
		}
		delete(w.queue, key)

		data, err := os.ReadFile(w.backend.path(key))
		if err != nil || w.backend.WrittenByUs(key, data) {
			continue
		}

		w.log.Debug("External bucket write", "key", key)
		select {
		case w.events <- key:
		case <-w.done:
			return false
		default:
			// consumer is behind and reloads whole buckets anyway
		}
	}
	return true
}
