// Package store provides the authoritative policy sources the cache
// processor polls.
//
// A Store answers two questions: when did any policy last change, and
// which descriptors' policies changed since a given instant. FileStore
// reads policy documents from a directory and SQLiteStore keeps them in a
// database table. Watcher turns filesystem events under a FileStore
// directory into immediate processor ticks.
package store

import (
	"context"
	"errors"
	"time"

	"esoe-hq/pdp/pkg/policy"
)

// Store is the authoritative source of policies.
type Store interface {
	// LastModified returns the most recent change instant across all
	// descriptors. A store with no content returns the zero time.
	LastModified(ctx context.Context) (time.Time, error)

	// Policies returns descriptor ID to ordered policy list. A nil since
	// requests every descriptor; otherwise only descriptors changed after
	// since are returned.
	Policies(ctx context.Context, since *time.Time) (map[string][]policy.Policy, error)
}

// ErrNotFound is returned when a descriptor is not present in a store.
var ErrNotFound = errors.New("descriptor not found")

// StorageError wraps a failure of the underlying storage with the
// operation that failed.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return "policy store " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}
