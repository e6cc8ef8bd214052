package store

import "errors"

// ErrNotFound indicates the key has no stored value.
var ErrNotFound = errors.New("key not found")

// Store is the persistence boundary: a key-value interface used to carry
// conversations, provider descriptors, and budget records across process
// restarts. Implementations must be safe for concurrent use.
type Store interface {
	// Load unmarshals the value for key into v.
	// Returns ErrNotFound if the key has never been saved.
	Load(key string, v any) error

	// Save marshals v and stores it under key, replacing any previous
	// value.
	Save(key string, v any) error

	// Delete removes a key. Deleting a missing key is a no-op.
	Delete(key string) error

	// Keys lists stored keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)
}
