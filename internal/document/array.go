package document

import (
	"encoding/json"
	"fmt"
)

// Array is the sequence-like document shape. Order is significant and
// duplicates are allowed.
type Array struct {
	items []any
}

func NewArray() *Array {
	return &Array{items: []any{}}
}

// ArrayFrom builds an Array from items, normalizing every value.
func ArrayFrom(items []any) (*Array, error) {
	a := NewArray()
	if err := a.AddAll(items); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Array) Shape() Shape { return ShapeArray }
func (a *Array) Len() int     { return len(a.items) }
func (a *Array) Value() any   { return a.items }

func (a *Array) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.items)
}

func (a *Array) Get(index int) (any, error) {
	if err := a.checkIndex(index); err != nil {
		return nil, err
	}
	return a.items[index], nil
}

// Items returns a shallow copy of the elements.
func (a *Array) Items() []any {
	out := make([]any, len(a.items))
	copy(out, a.items)
	return out
}

func (a *Array) Add(value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	a.items = append(a.items, v)
	return nil
}

// AddAll is all-or-nothing.
func (a *Array) AddAll(values []any) error {
	normalized := make([]any, 0, len(values))
	for _, value := range values {
		v, err := normalize(value)
		if err != nil {
			return err
		}
		normalized = append(normalized, v)
	}
	a.items = append(a.items, normalized...)
	return nil
}

// Set replaces the element at index and returns the old one.
func (a *Array) Set(index int, value any) (any, error) {
	if err := a.checkIndex(index); err != nil {
		return nil, err
	}
	v, err := normalize(value)
	if err != nil {
		return nil, err
	}
	prev := a.items[index]
	a.items[index] = v
	return prev, nil
}

// Remove deletes the element at index, shifting later elements left.
func (a *Array) Remove(index int) (any, error) {
	if err := a.checkIndex(index); err != nil {
		return nil, err
	}
	prev := a.items[index]
	last := len(a.items) - 1
	copy(a.items[index:], a.items[index+1:])
	a.items[last] = nil
	a.items = a.items[:last]
	return prev, nil
}

func (a *Array) Clear() {
	a.items = []any{}
}

func (a *Array) checkIndex(index int) error {
	if index < 0 || index >= len(a.items) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(a.items))
	}
	return nil
}
