package tracked

import (
	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/persist"
)

// Object is a map-like document kept in sync with its backing file.
type Object struct {
	c *persist.Controller
}

// NewObject wraps a controller bound to an object document.
func NewObject(c *persist.Controller) (*Object, error) {
	if err := checkShape(c, document.ShapeObject); err != nil {
		return nil, err
	}
	return &Object{c: c}, nil
}

// OpenObject binds path through the registry, decoding whatever it holds.
func OpenObject(r *persist.Registry, path string) (*Object, error) {
	c, err := r.BindFromFile(path, document.ShapeObject)
	if err != nil {
		return nil, err
	}
	return &Object{c: c}, nil
}

func (o *Object) Controller() *persist.Controller { return o.c }

func (o *Object) read(fn func(*document.Object) error) error {
	return o.c.View(func(d document.Document) error {
		return fn(d.(*document.Object))
	})
}

func (o *Object) write(op string, fn func(*document.Object) error) error {
	return o.c.Update(op, func(d document.Document) error {
		return fn(d.(*document.Object))
	})
}

// Get returns a copy of the value stored under key.
func (o *Object) Get(key string) (value any, ok bool, err error) {
	err = o.read(func(d *document.Object) error {
		var err error
		value, ok = d.Get(key)
		value, err = clone(value)
		return err
	})
	return value, ok, err
}

func (o *Object) ContainsKey(key string) (ok bool, err error) {
	err = o.read(func(d *document.Object) error {
		ok = d.ContainsKey(key)
		return nil
	})
	return ok, err
}

func (o *Object) Keys() (keys []string, err error) {
	err = o.read(func(d *document.Object) error {
		keys = d.Keys()
		return nil
	})
	return keys, err
}

func (o *Object) Len() (n int, err error) {
	err = o.read(func(d *document.Object) error {
		n = d.Len()
		return nil
	})
	return n, err
}

// Snapshot returns a deep copy of the entries.
func (o *Object) Snapshot() (map[string]any, error) {
	out := map[string]any{}
	if err := snapshot(o.c, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Object) Put(key string, value any) (prev any, existed bool, err error) {
	err = o.write(document.OpPut, func(d *document.Object) error {
		var err error
		prev, existed, err = d.Put(key, value)
		return err
	})
	return prev, existed, err
}

func (o *Object) PutAll(entries map[string]any) error {
	return o.write(document.OpPutAll, func(d *document.Object) error {
		return d.PutAll(entries)
	})
}

func (o *Object) PutIfAbsent(key string, value any) (current any, inserted bool, err error) {
	err = o.write(document.OpPutIfAbsent, func(d *document.Object) error {
		var err error
		if current, inserted, err = d.PutIfAbsent(key, value); err != nil {
			return err
		}
		current, err = clone(current)
		return err
	})
	return current, inserted, err
}

func (o *Object) Merge(key string, value any, fn func(current, value any) any) (merged any, err error) {
	err = o.write(document.OpMerge, func(d *document.Object) error {
		var err error
		if merged, err = d.Merge(key, value, fn); err != nil {
			return err
		}
		merged, err = clone(merged)
		return err
	})
	return merged, err
}

func (o *Object) Replace(key string, value any) (prev any, replaced bool, err error) {
	err = o.write(document.OpReplace, func(d *document.Object) error {
		var err error
		prev, replaced, err = d.Replace(key, value)
		return err
	})
	return prev, replaced, err
}

func (o *Object) Remove(key string) (prev any, existed bool, err error) {
	err = o.write(document.OpRemove, func(d *document.Object) error {
		prev, existed = d.Remove(key)
		return nil
	})
	return prev, existed, err
}
