// Package kv provides the namespaced key-value storage substrate: string keys
// mapped to JSON-serializable values, with no transactions and no atomic
// multi-key writes. GetAll exists so higher layers can prefix-scan the full
// namespace and self-heal their indexes.
package kv

import (
	"context"
	"encoding/json"
)

// Store is the key-value port. Missing keys are simply absent from Get
// results; no method returns a not-found error.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/store.go . Store
type Store interface {
	// Get returns the values for the given keys. Keys with no value are
	// omitted from the result.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)

	// Set writes each value under its key, marshaling to JSON. Writes are
	// per-key; there is no multi-key atomicity guarantee.
	Set(ctx context.Context, values map[string]any) error

	// Remove deletes the given keys. Removing an absent key is a no-op.
	Remove(ctx context.Context, keys ...string) error

	// GetAll returns every key and value in the namespace.
	GetAll(ctx context.Context) (map[string]json.RawMessage, error)
}

// marshalValues converts a Set payload to raw JSON, preserving values that
// are already raw.
func marshalValues(values map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case json.RawMessage:
			out[key] = v
		default:
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			out[key] = raw
		}
	}
	return out, nil
}
