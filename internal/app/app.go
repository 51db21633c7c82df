package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bassista/autopersist/internal/config"
	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/logger"
	"github.com/bassista/autopersist/internal/persist"
	"github.com/bassista/autopersist/internal/tracked"
)

// Document is one configured document bound to its backing file. Exactly one
// of Object and Array is set, matching Shape.
type Document struct {
	Name       string
	File       string
	Shape      document.Shape
	Controller *persist.Controller
	Object     *tracked.Object
	Array      *tracked.Array
}

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context.
type App struct {
	Config   *config.Config
	Registry *persist.Registry

	BaseCtx context.Context
	Cancel  context.CancelFunc

	mu        sync.RWMutex
	documents map[string]*Document

	shutdownOnce sync.Once
}

func New(cfg *config.Config, registry *persist.Registry) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if registry == nil {
		return nil, errors.New("registry is nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config:    cfg,
		Registry:  registry,
		BaseCtx:   ctx,
		Cancel:    cancel,
		documents: map[string]*Document{},
	}, nil
}

// NewRegistry builds the registry described by the persist section of cfg.
func NewRegistry(cfg *config.Config) *persist.Registry {
	return persist.NewRegistry(nil,
		persist.WithDebounceWindow(cfg.Persist.DebounceWindow),
		persist.WithIdleLogInterval(cfg.Persist.IdleLogInterval),
	)
}

// OpenDocuments binds every configured document, loading what its backing
// file already holds.
func (a *App) OpenDocuments() error {
	for _, dc := range a.Config.Data.Documents {
		if _, err := a.Open(dc); err != nil {
			return err
		}
	}
	return nil
}

// Open binds a single document and makes it reachable by name.
func (a *App) Open(dc config.DocumentConfig) (*Document, error) {
	shape, err := document.ParseShape(dc.Shape)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", dc.Name, err)
	}
	path := a.Config.DocumentPath(dc)

	d := &Document{Name: dc.Name, File: path, Shape: shape}
	switch shape {
	case document.ShapeObject:
		if d.Object, err = tracked.OpenObject(a.Registry, path); err == nil {
			d.Controller = d.Object.Controller()
		}
	case document.ShapeArray:
		if d.Array, err = tracked.OpenArray(a.Registry, path); err == nil {
			d.Controller = d.Array.Controller()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", dc.Name, err)
	}

	a.mu.Lock()
	a.documents[dc.Name] = d
	a.mu.Unlock()

	logger.WithFile("app", path).Infof("document %q ready (%s)", dc.Name, shape)
	return d, nil
}

// Document returns the open document called name.
func (a *App) Document(name string) (*Document, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.documents[name]
	return d, ok
}

// Documents returns the open documents ordered by name.
func (a *App) Documents() []*Document {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Document, 0, len(a.documents))
	for _, d := range a.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *App) StartWatchers() error {
	if !a.Config.Persist.WatchExternal {
		logger.WithComponent("app").Debug("external change detection disabled")
		return nil
	}
	if err := a.Registry.WatchExternalChanges(a.BaseCtx, a.Config.Persist.DebounceWindow); err != nil {
		return fmt.Errorf("cannot start backing file watcher: %w", err)
	}
	return nil
}

// Shutdown cancels the base context and drains every controller, so the last
// mutations reach disk. Safe to call more than once.
func (a *App) Shutdown() {
	if a == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		if a.Cancel != nil {
			a.Cancel()
		}
		if a.Registry != nil {
			a.Registry.ShutdownAll()
		}
	})
}
