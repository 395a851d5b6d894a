package doc

import (
	"errors"
	"testing"

	"github.com/daviddao/docsync/pkg/clock"
)

func valueEqual(t *testing.T, a, b *Document) {
	t.Helper()
	pa, pb := a.Paths(), b.Paths()
	if len(pa) != len(pb) {
		t.Fatalf("path sets differ: %v vs %v", pa, pb)
	}
	for _, p := range pa {
		ra, _ := a.Field(p)
		rb, ok := b.Field(p)
		if !ok {
			t.Fatalf("path %q missing on one side", p)
		}
		if ra.Deleted != rb.Deleted || string(ra.Value) != string(rb.Value) {
			t.Fatalf("path %q differs: %+v vs %+v", p, ra, rb)
		}
	}
}

// Applying Diff(a, b) to a reproduces b's visible state.
func TestDiffFaithful(t *testing.T) {
	a := New("doc-1", "A")
	b := New("doc-1", "B")
	mustSet(t, a, "shared", `"old"`)
	if err := b.Merge(a); err != nil {
		t.Fatal(err)
	}
	mustSet(t, b, "shared", `"new"`)
	mustSet(t, b, "only-b", `1`)
	if _, err := b.Delete("shared-gone"); err != nil {
		t.Fatal(err)
	}

	delta := Diff(a, b)
	if err := a.ApplyDelta(delta); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	valueEqual(t, a, b)
}

func TestDiffOmitsUpToDateFields(t *testing.T) {
	a := New("doc-1", "A")
	b := New("doc-1", "B")
	mustSet(t, a, "title", `"x"`)
	if err := b.Merge(a); err != nil {
		t.Fatal(err)
	}
	delta := Diff(a, b)
	if !delta.Empty() {
		t.Fatalf("nothing newer on b, delta should be empty: %+v", delta.Changes)
	}
}

// Applying the same delta twice is a no-op the second time.
func TestApplyDeltaIdempotent(t *testing.T) {
	a := New("doc-1", "A")
	b := New("doc-1", "B")
	mustSet(t, b, "title", `"y"`)
	mustSet(t, b, "n", `3`)

	delta := Diff(a, b)
	if err := a.ApplyDelta(delta); err != nil {
		t.Fatal(err)
	}
	clockAfterOnce := a.Clock()
	if err := a.ApplyDelta(delta); err != nil {
		t.Fatal(err)
	}
	valueEqual(t, a, b)
	if !a.Clock().Equal(clockAfterOnce) {
		t.Fatalf("second apply moved the clock: %v vs %v", a.Clock(), clockAfterOnce)
	}
}

// Deltas commute.
func TestApplyDeltaCommutative(t *testing.T) {
	base := func() *Document { return New("doc-1", "C") }

	a := New("doc-1", "A")
	mustSet(t, a, "title", `"from-a"`)
	b := New("doc-1", "B")
	mustSet(t, b, "title", `"from-b"`)
	mustSet(t, b, "other", `true`)

	d1 := Diff(base(), a)
	d2 := Diff(base(), b)

	x := base()
	if err := x.ApplyDelta(d1); err != nil {
		t.Fatal(err)
	}
	if err := x.ApplyDelta(d2); err != nil {
		t.Fatal(err)
	}
	y := base()
	if err := y.ApplyDelta(d2); err != nil {
		t.Fatal(err)
	}
	if err := y.ApplyDelta(d1); err != nil {
		t.Fatal(err)
	}
	valueEqual(t, x, y)
}

func TestApplyDeltaWrongDocument(t *testing.T) {
	a := New("doc-1", "A")
	err := a.ApplyDelta(Delta{DocumentID: "doc-2"})
	if !errors.Is(err, ErrWrongDocument) {
		t.Fatalf("got %v, want ErrWrongDocument", err)
	}
}

func TestApplyDeltaMergesSenderClock(t *testing.T) {
	a := New("doc-1", "A")
	delta := Delta{
		DocumentID: "doc-1",
		Changes: []Change{{
			Path: "title", Value: raw(`"x"`),
			Stamp: clock.Stamp{Clock: 2, Replica: "B"}, Origin: "B",
		}},
		Clock: clock.Vector{"B": 2, "C": 5},
	}
	if err := a.ApplyDelta(delta); err != nil {
		t.Fatal(err)
	}
	if a.Clock().Get("C") != 5 {
		t.Fatalf("sender clock not merged: %v", a.Clock())
	}
}

// DiffSince sends exactly the fields newer than the known clock.
func TestDiffSinceCatchUp(t *testing.T) {
	d := New("doc-1", "server")
	seed := Delta{DocumentID: "doc-1", Changes: []Change{
		{Path: "a1", Value: raw(`1`), Stamp: clock.Stamp{Clock: 2, Replica: "A"}, Origin: "A"},
		{Path: "a2", Value: raw(`2`), Stamp: clock.Stamp{Clock: 4, Replica: "A"}, Origin: "A"},
		{Path: "b1", Value: raw(`3`), Stamp: clock.Stamp{Clock: 1, Replica: "B"}, Origin: "B"},
	}}
	if err := d.ApplyDelta(seed); err != nil {
		t.Fatal(err)
	}

	known := clock.Vector{"A": 3, "B": 0}
	delta := d.DiffSince(known)
	if len(delta.Changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(delta.Changes), delta.Changes)
	}
	got := map[string]bool{}
	for _, ch := range delta.Changes {
		got[ch.Path] = true
	}
	if !got["a2"] || !got["b1"] || got["a1"] {
		t.Fatalf("wrong change set: %v", got)
	}
}

func TestDiffSinceEmptyKnownSendsEverything(t *testing.T) {
	d := New("doc-1", "A")
	mustSet(t, d, "x", `1`)
	if _, err := d.Delete("y"); err != nil {
		t.Fatal(err)
	}
	delta := d.DiffSince(clock.NewVector())
	if len(delta.Changes) != 2 {
		t.Fatalf("full catch-up should include tombstones: %+v", delta.Changes)
	}
}

func TestDeltaMarshalRoundTrip(t *testing.T) {
	d := New("doc-1", "A")
	mustSet(t, d, "x", `{"nested":true}`)
	delta := d.DiffSince(clock.NewVector())

	data, err := delta.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalDelta(data)
	if err != nil {
		t.Fatal(err)
	}
	fresh := New("doc-1", "B")
	if err := fresh.ApplyDelta(back); err != nil {
		t.Fatal(err)
	}
	valueEqual(t, fresh, d)
}
