package tracked

import (
	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/persist"
)

// Array is a sequence-like document kept in sync with its backing file.
type Array struct {
	c *persist.Controller
}

// NewArray wraps a controller bound to an array document.
func NewArray(c *persist.Controller) (*Array, error) {
	if err := checkShape(c, document.ShapeArray); err != nil {
		return nil, err
	}
	return &Array{c: c}, nil
}

// OpenArray binds path through the registry, decoding whatever it holds.
func OpenArray(r *persist.Registry, path string) (*Array, error) {
	c, err := r.BindFromFile(path, document.ShapeArray)
	if err != nil {
		return nil, err
	}
	return &Array{c: c}, nil
}

func (a *Array) Controller() *persist.Controller { return a.c }

func (a *Array) read(fn func(*document.Array) error) error {
	return a.c.View(func(d document.Document) error {
		return fn(d.(*document.Array))
	})
}

func (a *Array) write(op string, fn func(*document.Array) error) error {
	return a.c.Update(op, func(d document.Document) error {
		return fn(d.(*document.Array))
	})
}

// Get returns a copy of the element at index.
func (a *Array) Get(index int) (value any, err error) {
	err = a.read(func(d *document.Array) error {
		v, err := d.Get(index)
		if err != nil {
			return err
		}
		value, err = clone(v)
		return err
	})
	return value, err
}

func (a *Array) Len() (n int, err error) {
	err = a.read(func(d *document.Array) error {
		n = d.Len()
		return nil
	})
	return n, err
}

// Snapshot returns a deep copy of the items.
func (a *Array) Snapshot() ([]any, error) {
	out := []any{}
	if err := snapshot(a.c, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Array) Add(value any) error {
	return a.write(document.OpAdd, func(d *document.Array) error {
		return d.Add(value)
	})
}

func (a *Array) AddAll(values []any) error {
	return a.write(document.OpAddAll, func(d *document.Array) error {
		return d.AddAll(values)
	})
}

func (a *Array) Set(index int, value any) (prev any, err error) {
	err = a.write(document.OpSet, func(d *document.Array) error {
		var err error
		prev, err = d.Set(index, value)
		return err
	})
	return prev, err
}

func (a *Array) Remove(index int) (prev any, err error) {
	err = a.write(document.OpRemove, func(d *document.Array) error {
		var err error
		prev, err = d.Remove(index)
		return err
	})
	return prev, err
}

func (a *Array) Clear() error {
	return a.write(document.OpClear, func(d *document.Array) error {
		d.Clear()
		return nil
	})
}
