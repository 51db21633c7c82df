// Package codec converts documents to and from the bytes stored in a backing file.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bassista/autopersist/internal/document"
	"github.com/containerd/errdefs"
	"github.com/tailscale/hujson"
)

// ErrMalformedContent matches every *MalformedContentError.
var ErrMalformedContent = errors.New("malformed document content")

// MalformedContentError reports non-empty file content that does not decode
// into a document of the expected shape. It also matches errdefs.ErrInvalidArgument.
type MalformedContentError struct {
	Shape document.Shape
	Cause error
}

func (e *MalformedContentError) Error() string {
	return fmt.Sprintf("malformed %s content: %v", e.Shape, e.Cause)
}

func (e *MalformedContentError) Unwrap() []error {
	return []error{ErrMalformedContent, errdefs.ErrInvalidArgument, e.Cause}
}

// Encode returns the indented JSON form of doc followed by a newline.
// The caller must keep doc from being mutated while Encode runs.
func Encode(doc document.Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s document: %w", doc.Shape(), err)
	}
	return append(payload, '\n'), nil
}

// Decode parses data into a document of the given shape. Empty or
// whitespace-only data yields an empty document. Comments and trailing commas
// are accepted.
func Decode(data []byte, shape document.Shape) (document.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return document.Empty(shape)
	}

	standardized, err := hujson.Standardize(bytes.Clone(data))
	if err != nil {
		return nil, &MalformedContentError{Shape: shape, Cause: err}
	}

	switch shape {
	case document.ShapeObject:
		var entries map[string]any
		if err := unmarshalStrict(standardized, &entries); err != nil {
			return nil, &MalformedContentError{Shape: shape, Cause: err}
		}
		if entries == nil {
			// literal null
			return document.NewObject(), nil
		}
		return document.ObjectFrom(entries)
	case document.ShapeArray:
		var items []any
		if err := unmarshalStrict(standardized, &items); err != nil {
			return nil, &MalformedContentError{Shape: shape, Cause: err}
		}
		return document.ArrayFrom(items)
	default:
		return nil, fmt.Errorf("%w: %q", document.ErrUnknownShape, shape)
	}
}

// unmarshalStrict rejects trailing data after the first JSON value.
func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after top-level value")
	}
	return nil
}
