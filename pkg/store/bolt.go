package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"
)

var (
	bucketDocuments = []byte("documents")
	bucketClocks    = []byte("clocks")
)

// Bolt persists snapshots and clocks in a bbolt file. This is the local
// replica's store: one file per installation, single process, atomic
// per-transaction writes.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the bbolt file and its buckets.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocuments); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketClocks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close closes the underlying file.
func (b *Bolt) Close() error { return b.db.Close() }

// Get returns the stored snapshot for id, or ErrNotFound.
func (b *Bolt) Get(id string) (*doc.SerializedDocument, error) {
	var blob []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketDocuments).Get([]byte(id)); v != nil {
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.UnmarshalSnapshot(blob)
}

// Put replaces the snapshot and folds its clock into the stored clock,
// both inside one write transaction.
func (b *Bolt) Put(id string, snap *doc.SerializedDocument) error {
	blob, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDocuments).Put([]byte(id), blob); err != nil {
			return err
		}
		return mergeClockBucket(tx, id, snap.Clock)
	})
}

// List returns every stored document id in key order.
func (b *Bolt) List() ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Delete removes the snapshot and clock for id.
func (b *Bolt) Delete(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDocuments).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketClocks).Delete([]byte(id))
	})
}

// VectorClockGet returns the stored clock for id, empty if none.
func (b *Bolt) VectorClockGet(id string) (clock.Vector, error) {
	v := clock.NewVector()
	err := b.db.View(func(tx *bolt.Tx) error {
		blob := tx.Bucket(bucketClocks).Get([]byte(id))
		if blob == nil {
			return nil
		}
		return decodeClock(blob, &v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// VectorClockMerge folds v into the stored clock, per-replica max.
func (b *Bolt) VectorClockMerge(id string, v clock.Vector) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return mergeClockBucket(tx, id, v)
	})
}

func mergeClockBucket(tx *bolt.Tx, id string, v clock.Vector) error {
	if len(v) == 0 {
		return nil
	}
	bkt := tx.Bucket(bucketClocks)
	stored := clock.NewVector()
	if blob := bkt.Get([]byte(id)); blob != nil {
		if err := decodeClock(blob, &stored); err != nil {
			return err
		}
	}
	stored.Merge(v)
	blob, err := encodeClock(stored.Compact())
	if err != nil {
		return err
	}
	return bkt.Put([]byte(id), blob)
}

func decodeClock(blob []byte, v *clock.Vector) error {
	if err := json.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("decode clock: %w", err)
	}
	return nil
}

func encodeClock(v clock.Vector) ([]byte, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode clock: %w", err)
	}
	return blob, nil
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
