// Package document holds the two in-memory JSON shapes that can be bound to a
// backing file: Object (string keys to JSON values) and Array (ordered JSON
// values).
//
// Values are normalized on the way in by a JSON round trip, so a document only
// ever contains what encoding/json produces when decoding into any:
// map[string]any, []any, string, float64, bool and nil. Neither type is safe
// for concurrent use; callers serialize access (see the persist package).
package document
