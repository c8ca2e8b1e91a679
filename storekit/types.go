// Package storekit provides a local-first dual-write storage engine. It keeps
// a fast local backend and a remote relational backend in agreement: writes
// land locally first, are replicated to the remote backend in the background,
// and divergence between the two is detected and resolved explicitly.
package storekit

import (
	"context"
)

// Value is any JSON-decoded value: map[string]any, []any, string, float64,
// bool or nil. Adapters persist values as canonical JSON.
type Value = any

// Adapter is the uniform contract over one physical backend. Implementations
// must make each operation atomic per key: a reader never observes a partially
// written record.
//
// A backend-unreachable condition must surface as an error satisfying
// errors.IsUnavailable, never be silently swallowed, so the manager can decide
// whether to continue local-only.
type Adapter interface {
	// Get returns the value stored at key, or nil with a nil error when the
	// key is absent.
	Get(ctx context.Context, key string) (Value, error)

	// Set stores value at key, replacing any existing value.
	Set(ctx context.Context, key string, value Value) error

	// Remove deletes the value at key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys returns all keys currently present in the backend.
	Keys(ctx context.Context) ([]string, error)

	// Has reports whether key is present.
	Has(ctx context.Context, key string) (bool, error)

	// Close releases backend resources.
	Close() error
}

// Validator verifies that a raw value matches an entity schema before it is
// trusted. Registered per collection key and invoked at every write boundary.
type Validator func(value Value) error

// Subscriber is invoked after the value at a key changes. It receives only the
// key; subscribers re-fetch the current value. Delivery order is guaranteed
// per key (callbacks for the same key fire in write order) but not globally.
type Subscriber func(key string)

// Unsubscribe removes a previously registered subscriber.
type Unsubscribe func()

// WildcardKey subscribes to changes on every key.
const WildcardKey = "*"
