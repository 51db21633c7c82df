package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bassista/autopersist/internal/codec"
	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/logger"
	"github.com/bassista/autopersist/internal/storage"
	"github.com/containerd/errdefs"
)

// ErrRegistryClosed is returned by Bind and BindFromFile after ShutdownAll.
var ErrRegistryClosed = errors.New("controller registry is shut down")

// Registry owns every live Controller and guarantees at most one per backing
// file. It is created once by the host process and must be shut down with
// ShutdownAll before the process exits.
type Registry struct {
	files storage.Files
	opts  []Option

	mu          sync.Mutex
	controllers map[string]*Controller
	watcher     *storage.Watcher
	closed      bool
}

// NewRegistry creates an empty registry. opts are applied to every
// controller it creates.
func NewRegistry(files storage.Files, opts ...Option) *Registry {
	if files == nil {
		files = storage.NewOSFiles()
	}
	return &Registry{
		files:       files,
		opts:        opts,
		controllers: map[string]*Controller{},
	}
}

// Bind persists doc to path immediately and returns the controller that keeps
// it in sync. A controller already bound to path is stopped (flushing its
// pending mutation) and replaced.
func (r *Registry) Bind(doc document.Document, path string) (*Controller, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}
	abs, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	r.unbindLocked(abs)
	return r.bindLocked(doc, abs, nil)
}

// BindFromFile decodes path into a document of the given shape and binds it.
// A missing, empty or malformed file yields an empty document; only file
// creation and unexpected read failures are returned.
func (r *Registry) BindFromFile(path string, shape document.Shape) (*Controller, error) {
	if _, err := document.Empty(shape); err != nil {
		return nil, err
	}
	abs, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	// flush the previous owner before reading what it left behind
	r.unbindLocked(abs)

	log := logger.WithFile("registry", abs)
	data, err := r.files.Read(abs)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("load %s: %w", abs, err)
		}
		log.Debug("backing file does not exist yet, starting empty")
		data = nil
	}

	doc, err := codec.Decode(data, shape)
	if err != nil {
		if !errors.Is(err, codec.ErrMalformedContent) {
			return nil, err
		}
		log.Warnf("backing file content is malformed, replacing it with an empty %s: %v", shape, err)
		if doc, err = document.Empty(shape); err != nil {
			return nil, err
		}
	}
	return r.bindLocked(doc, abs, data)
}

// bindLocked ensures the file, writes the initial encoding unless it already
// matches onDisk, and registers a new controller. A failed initial write is
// left to the controller, which starts with a pending persist. r.mu must be
// held and no controller may be bound to abs.
func (r *Registry) bindLocked(doc document.Document, abs string, onDisk []byte) (*Controller, error) {
	if err := r.files.Ensure(abs); err != nil {
		return nil, err
	}

	opts := append([]Option{}, r.opts...)
	data, err := codec.Encode(doc)
	if err == nil && onDisk != nil && bytes.Equal(data, onDisk) {
		opts = append(opts, withLastWritten(data))
	} else {
		if err == nil {
			err = r.files.Write(abs, data)
		}
		if err != nil {
			// the loop owns write failures; it retries on its first pass
			werr := &PersistenceWriteError{Path: abs, Cause: err}
			logger.WithFile("registry", abs).Warnf("initial write failed, will retry: %v", werr)
			opts = append(opts, withLastWritten(onDisk), withPendingPersist())
		} else {
			opts = append(opts, withLastWritten(data))
		}
	}

	c := NewController(doc, abs, r.files, opts...)
	r.controllers[abs] = c

	if r.watcher != nil {
		if err := r.watcher.Add(abs); err != nil {
			logger.WithFile("registry", abs).Warnf("cannot watch backing file: %v", err)
		}
	}
	logger.WithFile("registry", abs).Infof("bound %s document", doc.Shape())
	return c, nil
}

// Unbind stops and removes the controller bound to path. It reports whether
// one was bound.
func (r *Registry) Unbind(path string) bool {
	abs, err := normalizePath(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(abs)
}

func (r *Registry) unbindLocked(abs string) bool {
	old, ok := r.controllers[abs]
	if !ok {
		return false
	}
	old.Stop()
	delete(r.controllers, abs)
	if r.watcher != nil {
		r.watcher.Remove(abs)
	}
	logger.WithFile("registry", abs).Debug("previous controller stopped and removed")
	return true
}

// Lookup returns the controller bound to path.
func (r *Registry) Lookup(path string) (*Controller, bool) {
	abs, err := normalizePath(path)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[abs]
	return c, ok
}

// Paths returns the bound file paths in lexical order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.controllers))
	for p := range r.controllers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// WatchExternalChanges starts warning about backing files modified by anyone
// but this process. The next persist still overwrites them.
func (r *Registry) WatchExternalChanges(ctx context.Context, debounce time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if r.watcher != nil {
		return nil
	}

	w, err := storage.NewWatcher(debounce, r.checkExternalChange)
	if err != nil {
		return err
	}
	for p := range r.controllers {
		if err := w.Add(p); err != nil {
			w.Close()
			return err
		}
	}
	w.Start(ctx)
	r.watcher = w
	return nil
}

func (r *Registry) checkExternalChange(path string) {
	c, ok := r.Lookup(path)
	if !ok {
		return
	}
	log := logger.WithFile("watcher", path)
	data, err := r.files.Read(path)
	if err != nil {
		log.Warnf("backing file changed but cannot be read: %v", err)
		return
	}
	if !bytes.Equal(data, c.LastWritten()) {
		log.Warn("backing file was modified by another writer; the next persist will overwrite it")
	}
}

// ShutdownAll stops every controller concurrently and waits for all of them,
// so mutations made just before shutdown reach disk. After it returns the
// registry accepts no new bindings. Calling it again is a no-op.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.controllers = map[string]*Controller{}
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()

	log := logger.WithComponent("registry")
	log.Infof("shutting down %d persistence controllers", len(controllers))

	if w != nil {
		if err := w.Close(); err != nil {
			log.Warnf("close watcher: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Go(c.Stop)
	}
	wg.Wait()
	log.Info("all persistence controllers stopped")
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("backing file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
