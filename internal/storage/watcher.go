package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bassista/autopersist/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to a set of files. It watches parent directories
// (not the files) so atomic replace sequences (temp+rename) are still
// observed. Events are debounced per file to avoid double callbacks on
// write+chmod/rename cycles.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func(path string)

	mu      sync.Mutex
	files   map[string]struct{}
	dirs    map[string]int
	timers  map[string]*time.Timer
	started bool
	closed  bool

	done chan struct{}
}

// NewWatcher creates a watcher that calls onChange(path) after a file has been
// quiet for debounce. Call Start to begin delivering events.
func NewWatcher(debounce time.Duration, onChange func(path string)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("onChange callback is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		files:    map[string]struct{}{},
		dirs:     map[string]int{},
		timers:   map[string]*time.Timer{},
		done:     make(chan struct{}),
	}, nil
}

// Add starts watching path. path should be absolute and clean.
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("watcher is closed")
	}
	if _, ok := w.files[path]; ok {
		return nil
	}
	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch dir: %w", err)
		}
	}
	w.dirs[dir]++
	w.files[path] = struct{}{}
	return nil
}

// Remove stops watching path. Unknown paths are ignored.
func (w *Watcher) Remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[path]; !ok {
		return
	}
	delete(w.files, path)
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if !w.closed {
			_ = w.fsw.Remove(dir)
		}
	}
}

// Start runs the event loop in the background until ctx is canceled or Close
// is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started || w.closed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				// Write/Create/Chmod cover edits and atomic replace; Remove/Rename
				// mean the file was moved away, wait for the next Create.
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod|fsnotify.Remove|fsnotify.Rename) != 0 {
					w.schedule(filepath.Clean(event.Name))
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				logger.WithComponent("watcher").Warnf("watcher error: %v", err)
			}
		}
	}()
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if _, ok := w.files[path]; !ok {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		_, watched := w.files[path]
		closed := w.closed
		w.mu.Unlock()
		if watched && !closed {
			w.onChange(path)
		}
	})
}

// Close stops the event loop and pending callbacks. It is safe to call more
// than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.done
	}
	return err
}
