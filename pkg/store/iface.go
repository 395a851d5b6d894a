// Package store persists document snapshots and vector clocks behind a
// small adapter interface. Three adapters ship: SQLite (WAL mode, the
// server default), bbolt (embedded key/value, the local replica
// default), and an in-memory map for tests and degraded operation.
//
// Vector clocks are addressable separately from full snapshots so the
// coordinator can refresh causality state without rewriting documents.
// VectorClockMerge always takes the per-replica max — clocks stored
// through any interleaving of writers never move backwards.
package store

import (
	"errors"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"
)

// ErrNotFound reports a document id with no stored snapshot.
var ErrNotFound = errors.New("document not found")

// Adapter is the persistence boundary consumed by the coordinator and
// the local replica. Put is an atomic replace. Implementations must
// round-trip snapshots losslessly.
type Adapter interface {
	// Get returns the stored snapshot for id, or ErrNotFound.
	Get(id string) (*doc.SerializedDocument, error)

	// Put atomically replaces the snapshot for id and folds the
	// snapshot's clock into the stored clock.
	Put(id string, snap *doc.SerializedDocument) error

	// List returns every stored document id. Admin and recovery only.
	List() ([]string, error)

	// Delete removes a document and its clock. Administrative removal;
	// deleting an absent id is not an error.
	Delete(id string) error

	// VectorClockGet returns the stored clock for id (empty if none).
	VectorClockGet(id string) (clock.Vector, error)

	// VectorClockMerge folds v into the stored clock, per-replica max.
	VectorClockMerge(id string, v clock.Vector) error

	// Close releases the underlying resources.
	Close() error
}

// Compile-time checks that every adapter implements Adapter.
var (
	_ Adapter = (*SQLite)(nil)
	_ Adapter = (*Bolt)(nil)
	_ Adapter = (*Memory)(nil)
)
