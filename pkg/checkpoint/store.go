// Package checkpoint persists resume cursors and unit state in a versioned
// key-value store with compare-and-swap writes.
package checkpoint

import (
	"context"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
)

// Version is an opaque token. Callers only hand it back to the next Put.
type Version string

// NoVersion asks Put to create the key; it fails if the key already exists.
const NoVersion Version = ""

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = fernerrors.ErrNotFound

type Store interface {
	// Get returns the stored value and its version.
	Get(ctx context.Context, key string) ([]byte, Version, error)
	// Put writes value if the stored version equals expected and returns the
	// new version. A mismatch yields a *errors.CASMismatchError.
	Put(ctx context.Context, key string, value []byte, expected Version) (Version, error)
	// Delete removes key. NoVersion deletes unconditionally. Deleting an
	// absent key succeeds whatever the expected version.
	Delete(ctx context.Context, key string, expected Version) error
}
