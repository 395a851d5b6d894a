package doc

import (
	"encoding/json"
	"fmt"

	"github.com/daviddao/docsync/pkg/clock"
)

// SerializedDocument is the persistence form of a document. The layout
// is stable: implementations must round-trip it losslessly.
type SerializedDocument struct {
	ID     string              `json:"id"`
	Fields map[string]Register `json:"fields"`
	Clock  clock.Vector        `json:"clock"`
}

// Marshal encodes the snapshot as JSON.
func (s *SerializedDocument) Marshal() ([]byte, error) { return json.Marshal(s) }

// UnmarshalSnapshot decodes a snapshot from JSON.
func UnmarshalSnapshot(data []byte) (*SerializedDocument, error) {
	var s SerializedDocument
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]Register)
	}
	if s.Clock == nil {
		s.Clock = clock.NewVector()
	}
	return &s, nil
}

// Snapshot captures the document's full state. The copy is deep: later
// mutations of the document do not show through.
func (d *Document) Snapshot() *SerializedDocument {
	fields := make(map[string]Register, len(d.fields))
	for p, r := range d.fields {
		fields[p] = r
	}
	return &SerializedDocument{ID: d.id, Fields: fields, Clock: d.Clock()}
}

// FromSnapshot rebuilds a document owned by replica from a snapshot.
// Each field's stamp is re-observed, so the clock covers every register
// even if the snapshot's clock was stale.
func FromSnapshot(snap *SerializedDocument, replica string) *Document {
	d := New(snap.ID, replica)
	for p, r := range snap.Fields {
		d.fields[p] = r
		d.clock.Observe(r.Stamp.Replica, r.Stamp.Clock)
	}
	d.clock.Merge(snap.Clock)
	return d
}
