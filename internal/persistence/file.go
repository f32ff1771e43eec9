package persistence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileExt = ".json"

// FileBackend stores each bucket as <dir>/<key>.json with a byte quota over
// the whole directory. Writes go through a temp file and rename so a reader
// never sees a torn bucket.
type FileBackend struct {
	dir   string
	quota int64

	mu   sync.Mutex
	last map[string][]byte // last payload this process wrote per key
}

// NewFileBackend creates the directory if needed; quota <= 0 means unlimited
func NewFileBackend(dir string, quota int64) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileBackend{
		dir:   dir,
		quota: quota,
		last:  make(map[string][]byte),
	}, nil
}

// Dir returns the storage directory
func (f *FileBackend) Dir() string {
	return f.dir
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+fileExt)
}

// Get implements Backend.
func (f *FileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read bucket %s: %w", key, err)
	}
	return data, true, nil
}

// Set implements Backend.
func (f *FileBackend) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.quota > 0 {
		used, err := f.usageExcluding(key)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > f.quota {
			return fmt.Errorf("file backend: %d bytes over %d: %w", used+int64(len(value)), f.quota, ErrQuotaExceeded)
		}
	}

	tmp, err := os.CreateTemp(f.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write bucket %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close bucket %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace bucket %s: %w", key, err)
	}

	f.last[key] = append([]byte(nil), value...)
	return nil
}

// usageExcluding sums bucket sizes except key; caller holds mu.
func (f *FileBackend) usageExcluding(key string) (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var used int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		if entry.Name() == key+fileExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}
	return used, nil
}

// WrittenByUs reports whether data equals the last payload this process
// wrote for key. The watcher uses it to ignore its own writes.
func (f *FileBackend) WrittenByUs(key string, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	last, ok := f.last[key]
	return ok && bytes.Equal(last, data)
}

// keyFromPath maps a bucket file path back to its key
func (f *FileBackend) keyFromPath(path string) (string, bool) {
	if filepath.Dir(path) != filepath.Clean(f.dir) {
		return "", false
	}
	name := filepath.Base(path)
	if !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	return strings.TrimSuffix(name, fileExt), true
}

// Close implements Backend.
func (f *FileBackend) Close() error { return nil }
