// Package storage defines the object storage surface consumed by export
// verification and replay. Producing exports and manifests is the writer
// side's concern; this core only reads.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned when a key does not exist in the store
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore fetches NDJSON exports and manifests by key
type ObjectStore interface {
	// Get returns the raw object body, or ErrObjectNotFound
	Get(ctx context.Context, key string) ([]byte, error)
}
