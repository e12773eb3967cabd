// Package storage owns the per-entity memory stores: the pluggable
// Persistence capability that holds one serialized document per entity, and
// the MemoryStore that caches those documents and implements CRUD, import and
// export on top of it.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Persistence.Read when no document exists for a key.
var ErrNotFound = errors.New("document not found")

// Persistence stores one opaque document per key. Implementations must make
// Write atomic: a concurrent or subsequent Read sees either the previous or
// the new document, never a mix.
type Persistence interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// Keyer is implemented by persistence backends that can enumerate the keys
// they hold.
type Keyer interface {
	Keys(ctx context.Context) ([]string, error)
}
