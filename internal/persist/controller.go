package persist

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassista/autopersist/internal/codec"
	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/logger"
	"github.com/bassista/autopersist/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultDebounceWindow is both the idle poll interval and the coalescing delay.
const DefaultDebounceWindow = 500 * time.Millisecond

// ErrControllerStopped is returned by Update and View once Stop has been called.
var ErrControllerStopped = errors.New("persistence controller is stopped")

// PersistenceWriteError reports a failed encode or write of a document. The
// loop logs it and keeps running.
type PersistenceWriteError struct {
	Path  string
	Cause error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Cause)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Cause }

// Stats are counters describing a controller's activity.
type Stats struct {
	Notifications  int64     `json:"notifications"`
	Persists       int64     `json:"persists"`
	FailedPersists int64     `json:"failedPersists"`
	LastPersistAt  time.Time `json:"lastPersistAt"`
	LastError      string    `json:"lastError,omitempty"`
	Stopped        bool      `json:"stopped"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebounceWindow overrides DefaultDebounceWindow. Non-positive values are ignored.
func WithDebounceWindow(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithIdleLogInterval makes the loop log at debug level while idle, at most
// once per interval. Zero disables it.
func WithIdleLogInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.idleLogInterval = d
	}
}

// withLastWritten seeds the bytes known to be on disk, used to tell our own
// writes from external ones.
func withLastWritten(data []byte) Option {
	return func(c *Controller) {
		c.lastWritten = bytes.Clone(data)
	}
}

// withPendingPersist starts the controller with its mutation flag set, so the
// loop writes the document as soon as it runs.
func withPendingPersist() Option {
	return func(c *Controller) {
		c.dirty = true
	}
}

// Controller keeps one document in sync with one backing file. A dedicated
// goroutine coalesces mutation notifications and writes the whole document at
// most once per debounce window.
//
// Mutations must go through Update (or hold the write side of the content lock
// by other means and call NotifyMutation afterwards).
type Controller struct {
	path            string
	doc             document.Document
	files           storage.Files
	window          time.Duration
	idleLogInterval time.Duration
	log             *logrus.Entry

	contentLock sync.RWMutex
	queue       eventQueue
	notify      chan struct{}

	// lifecycle orders Update against Stop: in-flight updates finish (and
	// enqueue their notification) before StopRequested is enqueued. stopped
	// is only set under the write side but may be read without the lock.
	lifecycle sync.RWMutex
	stopped   atomic.Bool
	stopping  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	// dirty is only touched by the loop goroutine.
	dirty bool

	notifications  atomic.Int64
	persists       atomic.Int64
	failedPersists atomic.Int64

	statsMu       sync.Mutex
	lastPersistAt time.Time
	lastError     string
	lastWritten   []byte
}

// NewController binds doc to path and starts the background loop. Callers
// normally go through Registry.Bind, which also enforces one controller per
// file.
func NewController(doc document.Document, path string, files storage.Files, opts ...Option) *Controller {
	c := &Controller{
		path:     path,
		doc:      doc,
		files:    files,
		window:   DefaultDebounceWindow,
		log:      logger.WithFile("persist", path),
		notify:   make(chan struct{}, 1),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	c.log.Debugf("persistence controller started with debounce window %v", c.window)
	return c
}

// Path returns the backing file path.
func (c *Controller) Path() string { return c.path }

// Shape returns the shape of the bound document.
func (c *Controller) Shape() document.Shape { return c.doc.Shape() }

// DebounceWindow returns the configured window.
func (c *Controller) DebounceWindow() time.Duration { return c.window }

// Document returns the live document. Reads and writes on it must hold the
// content lock; use View and Update.
func (c *Controller) Document() document.Document { return c.doc }

// NotifyMutation records that the document changed. It never blocks on the
// content lock and is a no-op after Stop.
func (c *Controller) NotifyMutation() {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	if c.stopped.Load() {
		return
	}
	c.enqueueMutation()
}

func (c *Controller) enqueueMutation() {
	c.notifications.Add(1)
	c.queue.push(eventMutation)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Update runs fn with exclusive access to the document. When fn succeeds and
// op is a mutating operation for the document's shape, the controller is
// notified after the lock is released. A failing fn never triggers a persist.
func (c *Controller) Update(op string, fn func(document.Document) error) error {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	if c.stopped.Load() {
		return ErrControllerStopped
	}

	c.contentLock.Lock()
	err := fn(c.doc)
	c.contentLock.Unlock()
	if err != nil {
		return err
	}

	if document.IsMutation(c.doc.Shape(), op) {
		c.enqueueMutation()
	}
	return nil
}

// View runs fn with shared access to the document.
func (c *Controller) View(fn func(document.Document) error) error {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	if c.stopped.Load() {
		return ErrControllerStopped
	}

	c.contentLock.RLock()
	defer c.contentLock.RUnlock()
	return fn(c.doc)
}

// Stop asks the loop to flush any pending mutation and waits until it has
// exited. Calling Stop again just waits for the same exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.lifecycle.Lock()
		c.stopped.Store(true)
		c.queue.push(eventStop)
		close(c.stopping)
		c.lifecycle.Unlock()
		c.log.Debug("stop requested")
	})
	<-c.done
}

// Done is closed once the loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	// never take lifecycle here: Stop may be queued behind an Update that
	// waits for the loop, and the loop needs statsMu to finish a persist
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Stats{
		Notifications:  c.notifications.Load(),
		Persists:       c.persists.Load(),
		FailedPersists: c.failedPersists.Load(),
		LastPersistAt:  c.lastPersistAt,
		LastError:      c.lastError,
		Stopped:        c.stopped.Load(),
	}
}

// LastWritten returns a copy of the bytes this process last wrote to the
// backing file.
func (c *Controller) LastWritten() []byte {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return bytes.Clone(c.lastWritten)
}

// run is the background loop. It holds the read side of the content lock
// except while waiting, so mutators are only held off during an actual write.
func (c *Controller) run() {
	defer close(c.done)

	c.contentLock.RLock()
	lastIdleLog := time.Now()
	for {
		switch c.queue.poll() {
		case eventNone:
			if c.dirty {
				if err := c.persistNow(); err != nil {
					// keep the flag; try again after a window
					c.wait(false)
				} else {
					c.dirty = false
				}
				continue
			}
			if c.idleLogInterval > 0 && time.Since(lastIdleLog) >= c.idleLogInterval {
				c.log.Debug("persistence controller idle")
				lastIdleLog = time.Now()
			}
			c.wait(true)
		case eventMutation:
			c.dirty = true
			c.wait(false)
			// notifications that arrived during the window fold into this persist
			if n := c.queue.dropLeading(eventMutation); n > 0 {
				c.log.Tracef("coalesced %d mutation notifications", n)
			}
		case eventStop:
			if c.dirty {
				if err := c.persistNow(); err == nil {
					c.dirty = false
				}
			}
			c.contentLock.RUnlock()
			c.log.Debug("persistence controller stopped")
			return
		}
	}
}

// wait releases the read lock for one debounce window. Stop always cuts it
// short; a new notification does too when idle.
func (c *Controller) wait(idle bool) {
	c.contentLock.RUnlock()
	defer c.contentLock.RLock()

	timer := time.NewTimer(c.window)
	defer timer.Stop()

	wake := c.notify
	if !idle {
		wake = nil
	}
	select {
	case <-timer.C:
	case <-c.stopping:
	case <-wake:
	}
}

// persistNow encodes and writes the document. The caller holds the read lock.
func (c *Controller) persistNow() error {
	data, err := codec.Encode(c.doc)
	if err == nil {
		err = c.files.Write(c.path, data)
	}
	if err != nil {
		werr := &PersistenceWriteError{Path: c.path, Cause: err}
		c.failedPersists.Add(1)
		c.statsMu.Lock()
		c.lastError = werr.Error()
		c.statsMu.Unlock()
		c.log.Errorf("persist error: %v", werr)
		return werr
	}

	c.persists.Add(1)
	c.statsMu.Lock()
	c.lastPersistAt = time.Now()
	c.lastError = ""
	c.lastWritten = data
	c.statsMu.Unlock()
	c.log.Debugf("document persisted (%d bytes)", len(data))
	return nil
}
