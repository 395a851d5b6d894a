package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"
)

// Every adapter must satisfy the same contract; the tests below run
// against all three.
var adapters = []struct {
	name string
	open func(t *testing.T) Adapter
}{
	{"sqlite", func(t *testing.T) Adapter {
		t.Helper()
		s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("NewSQLite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}},
	{"bolt", func(t *testing.T) Adapter {
		t.Helper()
		b, err := NewBolt(filepath.Join(t.TempDir(), "test.bolt"))
		if err != nil {
			t.Fatalf("NewBolt: %v", err)
		}
		t.Cleanup(func() { b.Close() })
		return b
	}},
	{"memory", func(t *testing.T) Adapter {
		t.Helper()
		return NewMemory()
	}},
}

func sampleSnapshot(id string) *doc.SerializedDocument {
	d := doc.New(id, "alice")
	if _, err := d.Set("title", []byte(`"hello"`)); err != nil {
		panic(err)
	}
	if _, err := d.Delete("obsolete"); err != nil {
		panic(err)
	}
	return d.Snapshot()
}

func TestGetAbsent(t *testing.T) {
	for _, a := range adapters {
		t.Run(a.name, func(t *testing.T) {
			s := a.open(t)
			if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	for _, a := range adapters {
		t.Run(a.name, func(t *testing.T) {
			s := a.open(t)
			snap := sampleSnapshot("doc-1")
			if err := s.Put("doc-1", snap); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := s.Get("doc-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ID != snap.ID {
				t.Fatalf("id: got %q, want %q", got.ID, snap.ID)
			}
			if len(got.Fields) != len(snap.Fields) {
				t.Fatalf("fields: got %d, want %d", len(got.Fields), len(snap.Fields))
			}
			if string(got.Fields["title"].Value) != `"hello"` {
				t.Fatalf("title: got %s", got.Fields["title"].Value)
			}
			if !got.Fields["obsolete"].Deleted {
				t.Fatal("tombstone lost in round trip")
			}
			if !got.Clock.Equal(snap.Clock) {
				t.Fatalf("clock: got %v, want %v", got.Clock, snap.Clock)
			}
		})
	}
}

func TestPutReplaces(t *testing.T) {
	for _, a := range adapters {
		t.Run(a.name, func(t *testing.T) {
			s := a.open(t)
			d := doc.New("doc-1", "alice")
			if _, err := d.Set("title", []byte(`"v1"`)); err != nil {
				t.Fatal(err)
			}
			if err := s.Put("doc-1", d.Snapshot()); err != nil {
				t.Fatal(err)
			}
			if _, err := d.Set("title", []byte(`"v2"`)); err != nil {
				t.Fatal(err)
			}
			if err := s.Put("doc-1", d.Snapshot()); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get("doc-1")
			if err != nil {
				t.Fatal(err)
			}
			if string(got.Fields["title"].Value) != `"v2"` {
				t.Fatalf("got %s, want \"v2\"", got.Fields["title"].Value)
			}
		})
	}
}

func TestList(t *testing.T) {
	for _, a := range adapters {
		t.Run(a.name, func(t *testing.T) {
			s := a.open(t)
			for _, id := range []string{"b", "a", "c"} {
				if err := s.Put(id, sampleSnapshot(id)); err != nil {
					t.Fatal(err)
				}
			}
			ids, err := s.List()
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
				t.Fatalf("got %v, want [a b c]", ids)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for _, a := range adapters {
		t.Run(a.name, func(t *testing.T) {
			s := a.open(t)
			if err := s.Put("doc-1", sampleSnapshot("doc-1")); err != nil {
				t.Fatal(err)
			}
			if err := s.Delete("doc-1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get("doc-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("after delete: got %v, want ErrNotFound", err)
			}
			v, err := s.VectorClockGet("doc-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(v.Compact()) != 0 {
				t.Fatalf("clock should be gone after delete: %v", v)
			}
			// Deleting an absent id is not an error.
			if err := s.Delete("doc-1"); err != nil {
				t.Fatalf("double delete: %v", err)
			}
		})
	}
}

func TestVectorClockMergeTakesMax(t *testing.T) {
	for _, a := range adapters {
		t.Run(a.name, func(t *testing.T) {
			s := a.open(t)
			if err := s.VectorClockMerge("doc-1", clock.Vector{"a": 5, "b": 1}); err != nil {
				t.Fatal(err)
			}
			if err := s.VectorClockMerge("doc-1", clock.Vector{"a": 3, "b": 4, "c": 2}); err != nil {
				t.Fatal(err)
			}
			v, err := s.VectorClockGet("doc-1")
			if err != nil {
				t.Fatal(err)
			}
			want := clock.Vector{"a": 5, "b": 4, "c": 2}
			if !v.Equal(want) {
				t.Fatalf("got %v, want %v", v, want)
			}
		})
	}
}

func TestPutFoldsSnapshotClock(t *testing.T) {
	for _, a := range adapters {
		t.Run(a.name, func(t *testing.T) {
			s := a.open(t)
			if err := s.Put("doc-1", sampleSnapshot("doc-1")); err != nil {
				t.Fatal(err)
			}
			v, err := s.VectorClockGet("doc-1")
			if err != nil {
				t.Fatal(err)
			}
			if v.Get("alice") == 0 {
				t.Fatalf("Put should fold the snapshot clock in: %v", v)
			}
		})
	}
}
