package doc

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/daviddao/docsync/pkg/clock"
)

// Change is one field-level write carried by a delta: the register
// content plus the path it lands on.
type Change struct {
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
	Stamp   clock.Stamp     `json:"stamp"`
	Origin  string          `json:"origin"`
}

func (c Change) register() Register {
	return Register{Value: c.Value, Deleted: c.Deleted, Stamp: c.Stamp, Origin: c.Origin}
}

// Delta is a set of field changes addressed to one document, plus the
// sender's vector clock at extraction time. Changes are kept in path
// order for deterministic output, but applying them is commutative in
// change order and idempotent under duplication.
type Delta struct {
	DocumentID string       `json:"document_id"`
	Changes    []Change     `json:"changes"`
	Clock      clock.Vector `json:"clock,omitempty"`
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool { return len(d.Changes) == 0 }

// Marshal encodes the delta as JSON.
func (d Delta) Marshal() ([]byte, error) { return json.Marshal(d) }

// UnmarshalDelta decodes a delta from JSON.
func UnmarshalDelta(data []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return Delta{}, fmt.Errorf("decode delta: %w", err)
	}
	return d, nil
}

// changeFor builds the Change carrying one register.
func changeFor(path string, r Register) Change {
	return Change{Path: path, Value: r.Value, Deleted: r.Deleted, Stamp: r.Stamp, Origin: r.Origin}
}

// ApplyDelta folds every change of delta into the document with the
// LWW rule and raises the vector clock to cover each change's stamp.
// Applying the same delta twice is a no-op the second time; applying
// two deltas in either order yields the same document.
func (d *Document) ApplyDelta(delta Delta) error {
	if delta.DocumentID != "" && delta.DocumentID != d.id {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongDocument, delta.DocumentID, d.id)
	}
	if d.failed != nil {
		return fmt.Errorf("%w: %w", ErrDocumentFailed, d.failed)
	}
	for _, ch := range delta.Changes {
		if ch.Path == "" {
			return ErrEmptyPath
		}
		if err := d.absorb(ch.Path, ch.register()); err != nil {
			return err
		}
	}
	if delta.Clock != nil {
		d.clock.Merge(delta.Clock)
	}
	return nil
}

// DiffSince extracts the catch-up delta for a peer whose knowledge is
// summarized by the vector clock known: every register whose stamp
// clock exceeds known's coordinate for the stamp's replica, tombstones
// included. An empty known clock yields the full document.
func (d *Document) DiffSince(known clock.Vector) Delta {
	delta := Delta{DocumentID: d.id, Clock: d.Clock()}
	for _, path := range d.Paths() {
		r := d.fields[path]
		if r.Stamp.Clock > known.Get(r.Stamp.Replica) {
			delta.Changes = append(delta.Changes, changeFor(path, r))
		}
	}
	return delta
}

// Diff computes the delta that, applied to from, reproduces to's
// value-visible state: every register of to that from lacks or holds
// under a strictly lower stamp. Paths only in from are not emitted —
// the value lattice is grow-only and deletions travel as tombstones.
func Diff(from, to *Document) Delta {
	delta := Delta{DocumentID: to.id, Clock: to.Clock()}
	paths := make([]string, 0, len(to.fields))
	for p := range to.fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, path := range paths {
		target := to.fields[path]
		current, ok := from.fields[path]
		if !ok || current.Stamp.Less(target.Stamp) {
			delta.Changes = append(delta.Changes, changeFor(path, target))
		}
	}
	return delta
}
