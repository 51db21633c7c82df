package tracked

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/persist"
)

// ErrShapeMismatch is returned when wrapping a controller whose document has
// a different shape than the wrapper.
var ErrShapeMismatch = errors.New("document shape mismatch")

func checkShape(c *persist.Controller, want document.Shape) error {
	if c == nil {
		return errors.New("controller is nil")
	}
	if got := c.Shape(); got != want {
		return fmt.Errorf("%w: controller holds %s, wrapper needs %s", ErrShapeMismatch, got, want)
	}
	return nil
}

// snapshot deep-copies the current value under the read lock.
func snapshot(c *persist.Controller, out any) error {
	var raw []byte
	err := c.View(func(d document.Document) error {
		var err error
		raw, err = json.Marshal(d)
		return err
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// clone deep-copies a value taken from the document. Callers run it while the
// content lock is still held.
func clone(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
