package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Shape is fixed when a document is created and never changes.
type Shape string

const (
	ShapeObject Shape = "object"
	ShapeArray  Shape = "array"
)

var (
	ErrInvalidValue     = errors.New("value is not representable as JSON")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrUnknownShape     = errors.New("unknown document shape")
	ErrNilMergeFunction = errors.New("merge function is nil")
)

// Operation names. Only the ones listed in mutatingOps for a shape trigger persistence.
const (
	OpGet         = "get"
	OpPut         = "put"
	OpPutAll      = "putAll"
	OpPutIfAbsent = "putIfAbsent"
	OpMerge       = "merge"
	OpReplace     = "replace"
	OpRemove      = "remove"
	OpClear       = "clear"
	OpAdd         = "add"
	OpAddAll      = "addAll"
	OpSet         = "set"
)

var mutatingOps = map[Shape]map[string]struct{}{
	ShapeObject: {
		OpRemove:      {},
		OpPut:         {},
		OpPutAll:      {},
		OpPutIfAbsent: {},
		OpMerge:       {},
		OpReplace:     {},
	},
	ShapeArray: {
		OpClear:  {},
		OpRemove: {},
		OpAdd:    {},
		OpAddAll: {},
		OpSet:    {},
	},
}

// IsMutation reports whether op is a mutating operation for shape.
func IsMutation(shape Shape, op string) bool {
	_, ok := mutatingOps[shape][op]
	return ok
}

// Document is implemented by *Object and *Array.
type Document interface {
	Shape() Shape
	Len() int
	// Value returns the live underlying map[string]any or []any. It is not a copy.
	Value() any
}

// ParseShape maps a config/API string to a Shape.
func ParseShape(s string) (Shape, error) {
	switch Shape(s) {
	case ShapeObject, ShapeArray:
		return Shape(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownShape, s)
	}
}

// Empty returns a new empty document of the given shape.
func Empty(shape Shape) (Document, error) {
	switch shape {
	case ShapeObject:
		return NewObject(), nil
	case ShapeArray:
		return NewArray(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownShape, shape)
	}
}

// normalize deep-copies v through JSON so the document never shares
// mutable state with the caller.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}
