package document

import (
	"encoding/json"
	"sort"
)

// Object is the map-like document shape.
type Object struct {
	entries map[string]any
}

func NewObject() *Object {
	return &Object{entries: map[string]any{}}
}

// ObjectFrom builds an Object from entries, normalizing every value.
func ObjectFrom(entries map[string]any) (*Object, error) {
	o := NewObject()
	if err := o.PutAll(entries); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Object) Shape() Shape { return ShapeObject }
func (o *Object) Len() int     { return len(o.entries) }
func (o *Object) Value() any   { return o.entries }

func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.entries)
}

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.entries[key]
	return v, ok
}

func (o *Object) ContainsKey(key string) bool {
	_, ok := o.entries[key]
	return ok
}

// Keys returns the keys in lexical order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.entries))
	for k := range o.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Put sets key to value and returns the previous value, if any.
func (o *Object) Put(key string, value any) (any, bool, error) {
	v, err := normalize(value)
	if err != nil {
		return nil, false, err
	}
	prev, existed := o.entries[key]
	o.entries[key] = v
	return prev, existed, nil
}

// PutAll is all-or-nothing: nothing is written if any value fails to normalize.
func (o *Object) PutAll(entries map[string]any) error {
	normalized := make(map[string]any, len(entries))
	for k, value := range entries {
		v, err := normalize(value)
		if err != nil {
			return err
		}
		normalized[k] = v
	}
	for k, v := range normalized {
		o.entries[k] = v
	}
	return nil
}

// PutIfAbsent stores value only when key is missing or holds null. It returns
// the value now associated with key and whether it was inserted.
func (o *Object) PutIfAbsent(key string, value any) (any, bool, error) {
	if cur, ok := o.entries[key]; ok && cur != nil {
		return cur, false, nil
	}
	v, err := normalize(value)
	if err != nil {
		return nil, false, err
	}
	o.entries[key] = v
	return v, true, nil
}

// Merge stores value when key is missing or null, otherwise stores
// fn(current, value). A nil result from fn removes the key.
func (o *Object) Merge(key string, value any, fn func(current, value any) any) (any, error) {
	if fn == nil {
		return nil, ErrNilMergeFunction
	}
	v, err := normalize(value)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrInvalidValue
	}
	cur, ok := o.entries[key]
	if !ok || cur == nil {
		o.entries[key] = v
		return v, nil
	}
	// fn gets a copy so a failing merge leaves the stored value untouched
	curCopy, err := normalize(cur)
	if err != nil {
		return nil, err
	}
	merged, err := normalize(fn(curCopy, v))
	if err != nil {
		return nil, err
	}
	if merged == nil {
		delete(o.entries, key)
		return nil, nil
	}
	o.entries[key] = merged
	return merged, nil
}

// Replace overwrites key only when it is already present.
func (o *Object) Replace(key string, value any) (any, bool, error) {
	prev, ok := o.entries[key]
	if !ok {
		return nil, false, nil
	}
	v, err := normalize(value)
	if err != nil {
		return nil, false, err
	}
	o.entries[key] = v
	return prev, true, nil
}

func (o *Object) Remove(key string) (any, bool) {
	prev, ok := o.entries[key]
	if ok {
		delete(o.entries, key)
	}
	return prev, ok
}
