package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"
)

// Memory is an in-memory Adapter. It backs tests and keeps the
// coordinator serving while the durable store is unavailable.
type Memory struct {
	mu     sync.RWMutex
	snaps  map[string][]byte
	clocks map[string]clock.Vector
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		snaps:  make(map[string][]byte),
		clocks: make(map[string]clock.Vector),
	}
}

// Get returns the stored snapshot for id, or ErrNotFound.
func (m *Memory) Get(id string) (*doc.SerializedDocument, error) {
	m.mu.RLock()
	blob, ok := m.snaps[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.UnmarshalSnapshot(blob)
}

// Put replaces the snapshot and folds its clock into the stored clock.
// Snapshots are stored encoded so callers cannot alias stored state.
func (m *Memory) Put(id string, snap *doc.SerializedDocument) error {
	blob, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[id] = blob
	m.mergeClockLocked(id, snap.Clock)
	return nil
}

// List returns every stored document id, sorted.
func (m *Memory) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the snapshot and clock for id.
func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	delete(m.clocks, id)
	return nil
}

// VectorClockGet returns a copy of the stored clock for id.
func (m *Memory) VectorClockGet(id string) (clock.Vector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.clocks[id]; ok {
		return v.Clone(), nil
	}
	return clock.NewVector(), nil
}

// VectorClockMerge folds v into the stored clock, per-replica max.
func (m *Memory) VectorClockMerge(id string, v clock.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeClockLocked(id, v)
	return nil
}

func (m *Memory) mergeClockLocked(id string, v clock.Vector) {
	stored, ok := m.clocks[id]
	if !ok {
		stored = clock.NewVector()
		m.clocks[id] = stored
	}
	stored.Merge(v)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
