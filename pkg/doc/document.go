package doc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/daviddao/docsync/pkg/clock"
)

// ErrDocumentFailed marks a document poisoned by a stamp conflict.
// Reads keep working; every mutation fails until the document is
// rebuilt from a clean snapshot.
var ErrDocumentFailed = errors.New("document failed")

// ErrEmptyPath rejects the empty field path.
var ErrEmptyPath = errors.New("empty field path")

// ErrWrongDocument reports a delta addressed to a different document.
var ErrWrongDocument = errors.New("delta for wrong document")

// Document is one replicated document: field registers plus the vector
// clock of everything this replica has observed. Field paths are opaque
// flat keys; values are opaque encoded blobs. A Document is owned by a
// single writer — it performs no locking of its own.
type Document struct {
	id      string
	replica string
	fields  map[string]Register
	clock   clock.Vector
	failed  error
}

// New returns an empty document owned by the given replica.
func New(id, replica string) *Document {
	return &Document{
		id:      id,
		replica: replica,
		fields:  make(map[string]Register),
		clock:   clock.NewVector(),
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Replica returns the owning replica identifier.
func (d *Document) Replica() string { return d.replica }

// Clock returns a copy of the document's vector clock with zero
// coordinates elided. Mutating the copy does not affect the document.
func (d *Document) Clock() clock.Vector { return d.clock.Compact() }

// Failed returns the fault that poisoned the document, or nil.
func (d *Document) Failed() error { return d.failed }

func (d *Document) checkMutable(path string) error {
	if d.failed != nil {
		return fmt.Errorf("%w: %w", ErrDocumentFailed, d.failed)
	}
	if path == "" {
		return ErrEmptyPath
	}
	return nil
}

// Set writes value at path under a fresh stamp and returns that stamp.
// A local write always wins: the fresh stamp is strictly greater than
// any stamp this replica has observed, hence greater than the stamp of
// any register it holds.
func (d *Document) Set(path string, value json.RawMessage) (clock.Stamp, error) {
	if err := d.checkMutable(path); err != nil {
		return clock.Stamp{}, err
	}
	s := d.clock.NextStamp(d.replica)
	d.fields[path] = Register{Value: value, Stamp: s, Origin: d.replica}
	return s, nil
}

// Delete writes a tombstone at path under a fresh stamp. The register
// stays in the map so the delete participates in LWW like any write.
func (d *Document) Delete(path string) (clock.Stamp, error) {
	if err := d.checkMutable(path); err != nil {
		return clock.Stamp{}, err
	}
	s := d.clock.NextStamp(d.replica)
	d.fields[path] = Register{Deleted: true, Stamp: s, Origin: d.replica}
	return s, nil
}

// Get returns the value at path. ok is false for paths never written
// and for tombstoned paths; use Deleted to tell the two apart.
func (d *Document) Get(path string) (json.RawMessage, bool) {
	r, ok := d.fields[path]
	if !ok || r.Deleted {
		return nil, false
	}
	return r.Value, true
}

// Deleted reports whether path holds a tombstone.
func (d *Document) Deleted(path string) bool {
	r, ok := d.fields[path]
	return ok && r.Deleted
}

// Field returns the raw register at path for audit and diffing.
func (d *Document) Field(path string) (Register, bool) {
	r, ok := d.fields[path]
	return r, ok
}

// Paths returns every path holding a register, tombstones included,
// in sorted order.
func (d *Document) Paths() []string {
	ps := make([]string, 0, len(d.fields))
	for p := range d.fields {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return ps
}

// Len returns the number of registers, tombstones included.
func (d *Document) Len() int { return len(d.fields) }

// absorb runs the LWW rule for one incoming register and keeps the
// vector clock ahead of every stored stamp. A stamp conflict poisons
// the document.
func (d *Document) absorb(path string, in Register) error {
	won, _, err := d.fields[path].merge(in)
	if err != nil {
		d.failed = err
		return err
	}
	d.fields[path] = won
	d.clock.Observe(in.Stamp.Replica, in.Stamp.Clock)
	return nil
}

// Merge folds every register of other into d, then merges the clocks.
// Afterwards d reflects everything both documents had observed.
func (d *Document) Merge(other *Document) error {
	if d.failed != nil {
		return fmt.Errorf("%w: %w", ErrDocumentFailed, d.failed)
	}
	for path, reg := range other.fields {
		if err := d.absorb(path, reg); err != nil {
			return err
		}
	}
	d.clock.Merge(other.clock)
	return nil
}
