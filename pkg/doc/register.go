// Package doc implements the replicated document: a map of field paths
// to last-write-wins registers plus a vector clock recording the highest
// write observed from each replica.
//
// Conflict resolution is field-granular LWW over totally ordered stamps
// (see pkg/clock). Because the stamp order is total and the same on every
// replica, merging is commutative, associative, and idempotent: replicas
// that observe the same set of writes converge to identical state no
// matter the delivery order or duplication.
//
// Deleting a field produces a tombstone register, not an absent one. The
// tombstone carries its own stamp and loses to any later write, so a
// delete can itself be overwritten. Dropping tombstones would let an
// out-of-order remote write resurrect deleted state.
package doc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daviddao/docsync/pkg/clock"
)

// ErrStampConflict reports two writes carrying the same stamp but
// different values. Stamps are unique per (replica, clock), so this is
// always a bug in the caller or a corrupted peer; the document refuses
// further mutation once it sees one.
var ErrStampConflict = errors.New("conflicting values under one stamp")

// Register is one LWW cell: the current value, the stamp that wrote it,
// and the replica that produced that write. Origin duplicates
// Stamp.Replica; it is kept for audit trails.
//
// A register with Deleted set is a tombstone. Its Value is nil, which is
// distinct from a live register holding JSON null.
type Register struct {
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
	Stamp   clock.Stamp     `json:"stamp"`
	Origin  string          `json:"origin"`
}

// Tombstone reports whether the register is a deletion marker.
func (r Register) Tombstone() bool { return r.Deleted }

// merge resolves r against an incoming register with the LWW rule and
// returns the winner plus whether the incoming write was adopted.
//
//	zero r            -> adopt incoming
//	incoming > r      -> adopt incoming
//	incoming < r      -> keep r
//	equal stamps      -> values must agree, else ErrStampConflict
func (r Register) merge(in Register) (Register, bool, error) {
	if r.Stamp.IsZero() {
		return in, true, nil
	}
	switch r.Stamp.Compare(in.Stamp) {
	case -1:
		return in, true, nil
	case 1:
		return r, false, nil
	default:
		if r.Deleted != in.Deleted || !bytes.Equal(r.Value, in.Value) {
			return r, false, fmt.Errorf("%w: stamp %s", ErrStampConflict, r.Stamp)
		}
		return r, false, nil
	}
}
