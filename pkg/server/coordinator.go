package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/cespare/xxhash"
	"github.com/google/uuid"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"
	"github.com/daviddao/docsync/pkg/fanout"
	"github.com/daviddao/docsync/pkg/store"
)

// shardCount spreads documents over independent mutex regions so
// unrelated documents never contend. Lock order is always
// shard -> nothing: no operation takes two shards at once.
const shardCount = 16

// Outbound is the coordinator's view of a subscriber connection.
type Outbound interface {
	// ID returns the stable connection identifier.
	ID() string

	// Enqueue offers one message to the connection's bounded send
	// queue. False means the queue is full or the connection is gone;
	// the coordinator responds by dropping the subscriber.
	Enqueue(Message) bool

	// Drop tears the connection down. The subscriber is expected to
	// reconnect and catch up through subscribe_ack.
	Drop()
}

// busEnvelope wraps a delta on the fanout bus with the publishing
// server's identity, so a server can ignore its own publications.
type busEnvelope struct {
	Origin string    `json:"origin"`
	Delta  doc.Delta `json:"delta"`
}

type docState struct {
	doc    *doc.Document
	subs   map[string]Outbound
	busSub fanout.Subscription
	dirty  bool
}

type shard struct {
	mu   sync.Mutex
	docs map[string]*docState
}

// Coordinator owns the server-side documents and subscriber sets.
// Documents are loaded lazily from the store on first subscribe or
// first delta and evicted when their last subscriber leaves. A delta
// is applied under the owning shard's lock; persistence, broadcast,
// and bus publication happen after the lock is released.
type Coordinator struct {
	serverID      string
	store         store.Adapter
	bus           fanout.Bus
	log           *log.Entry
	flushInterval time.Duration
	shards        [shardCount]shard
}

// NewCoordinator wires a coordinator to its store and fanout bus.
func NewCoordinator(st store.Adapter, bus fanout.Bus, logger *log.Entry) *Coordinator {
	c := &Coordinator{
		serverID:      uuid.NewString(),
		store:         st,
		bus:           bus,
		log:           logger,
		flushInterval: 5 * time.Second,
	}
	for i := range c.shards {
		c.shards[i].docs = make(map[string]*docState)
	}
	return c
}

func (c *Coordinator) shardFor(docID string) *shard {
	return &c.shards[xxhash.Sum64String(docID)%shardCount]
}

// loadLocked returns the docState for docID, loading the snapshot from
// the store on first touch. Caller holds sh.mu.
func (c *Coordinator) loadLocked(sh *shard, docID string) (*docState, error) {
	if st, ok := sh.docs[docID]; ok {
		return st, nil
	}
	var d *doc.Document
	snap, err := c.store.Get(docID)
	switch {
	case err == nil:
		d = doc.FromSnapshot(snap, c.serverID)
	case store.IsNotFound(err):
		d = doc.New(docID, c.serverID)
	default:
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}
	st := &docState{doc: d, subs: make(map[string]Outbound)}
	sh.docs[docID] = st

	busSub, err := c.bus.Subscribe(context.Background(), fanout.DocChannel(docID), func(payload []byte) {
		c.handleBusPayload(docID, payload)
	})
	if err != nil {
		c.log.WithError(err).WithField("doc", docID).Warn("fanout subscribe failed")
	} else {
		st.busSub = busSub
	}
	return st, nil
}

// Subscribe registers conn as a subscriber of docID and returns the
// catch-up delta for the clock the client last knew.
func (c *Coordinator) Subscribe(docID string, conn Outbound, known clock.Vector) (doc.Delta, error) {
	sh := c.shardFor(docID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, err := c.loadLocked(sh, docID)
	if err != nil {
		return doc.Delta{}, err
	}
	st.subs[conn.ID()] = conn
	return st.doc.DiffSince(known), nil
}

// Unsubscribe removes conn from docID's subscriber set.
func (c *Coordinator) Unsubscribe(docID, connID string) {
	sh := c.shardFor(docID)
	sh.mu.Lock()
	st, ok := sh.docs[docID]
	if ok {
		delete(st.subs, connID)
	}
	evict := ok && len(st.subs) == 0 && !st.dirty
	if evict {
		delete(sh.docs, docID)
	}
	sh.mu.Unlock()

	if evict && st.busSub != nil {
		st.busSub.Close()
	}
}

// UnsubscribeAll removes conn from every subscriber set. Called on
// disconnect and on backpressure drop.
func (c *Coordinator) UnsubscribeAll(connID string) {
	for i := range c.shards {
		sh := &c.shards[i]
		var evicted []*docState
		sh.mu.Lock()
		for docID, st := range sh.docs {
			delete(st.subs, connID)
			if len(st.subs) == 0 && !st.dirty {
				delete(sh.docs, docID)
				evicted = append(evicted, st)
			}
		}
		sh.mu.Unlock()
		for _, st := range evicted {
			if st.busSub != nil {
				st.busSub.Close()
			}
		}
	}
}

// HandleDelta applies a delta arriving from connection fromConn,
// persists the result, broadcasts to the document's other local
// subscribers, and publishes to peer servers.
func (c *Coordinator) HandleDelta(ctx context.Context, fromConn string, delta doc.Delta) error {
	if err := c.apply(delta, fromConn); err != nil {
		return err
	}
	c.publish(ctx, delta)
	return nil
}

// handleBusPayload applies a delta published by a peer server and
// re-broadcasts it to local subscribers only.
func (c *Coordinator) handleBusPayload(docID string, payload []byte) {
	var env busEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.log.WithError(err).WithField("doc", docID).Warn("malformed fanout payload")
		return
	}
	if env.Origin == c.serverID {
		return
	}
	if err := c.apply(env.Delta, ""); err != nil {
		c.log.WithError(err).WithField("doc", docID).Error("apply fanout delta")
	}
}

// apply runs the LWW merge under the shard lock, then persists and
// broadcasts with the lock released.
func (c *Coordinator) apply(delta doc.Delta, excludeConn string) error {
	docID := delta.DocumentID
	sh := c.shardFor(docID)

	sh.mu.Lock()
	st, err := c.loadLocked(sh, docID)
	if err != nil {
		sh.mu.Unlock()
		return err
	}
	if err := st.doc.ApplyDelta(delta); err != nil {
		sh.mu.Unlock()
		return err
	}
	snap := st.doc.Snapshot()
	st.dirty = true
	targets := make([]Outbound, 0, len(st.subs))
	for id, out := range st.subs {
		if id != excludeConn {
			targets = append(targets, out)
		}
	}
	sh.mu.Unlock()

	if err := c.store.Put(docID, snap); err != nil {
		c.log.WithError(err).WithField("doc", docID).Warn("persist failed, serving from memory")
	} else {
		c.clearDirty(docID)
	}

	msg := deltaMessage(delta)
	for _, out := range targets {
		if !out.Enqueue(msg) {
			c.log.WithField("conn", out.ID()).Warn("send queue full, dropping subscriber")
			c.UnsubscribeAll(out.ID())
			out.Drop()
		}
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, delta doc.Delta) {
	payload, err := json.Marshal(busEnvelope{Origin: c.serverID, Delta: delta})
	if err != nil {
		c.log.WithError(err).Error("encode fanout envelope")
		return
	}
	if err := c.bus.Publish(ctx, fanout.DocChannel(delta.DocumentID), payload); err != nil {
		c.log.WithError(err).WithField("doc", delta.DocumentID).Warn("fanout publish failed")
	}
}

// clearDirty marks docID clean and evicts it if nobody subscribes to
// it anymore (a delta can load a document nobody is watching).
func (c *Coordinator) clearDirty(docID string) {
	sh := c.shardFor(docID)
	var evicted *docState
	sh.mu.Lock()
	if st, ok := sh.docs[docID]; ok {
		st.dirty = false
		if len(st.subs) == 0 {
			delete(sh.docs, docID)
			evicted = st
		}
	}
	sh.mu.Unlock()
	if evicted != nil && evicted.busSub != nil {
		evicted.busSub.Close()
	}
}

// SnapshotFor returns the catch-up delta for docID relative to known
// without subscribing.
func (c *Coordinator) SnapshotFor(docID string, known clock.Vector) (doc.Delta, error) {
	sh := c.shardFor(docID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, err := c.loadLocked(sh, docID)
	if err != nil {
		return doc.Delta{}, err
	}
	return st.doc.DiffSince(known), nil
}

// RemoveDocument administratively deletes a document from the store and
// evicts it from memory. Subscribers are dropped.
func (c *Coordinator) RemoveDocument(docID string) error {
	sh := c.shardFor(docID)
	sh.mu.Lock()
	st, ok := sh.docs[docID]
	if ok {
		delete(sh.docs, docID)
	}
	sh.mu.Unlock()

	if ok {
		if st.busSub != nil {
			st.busSub.Close()
		}
		for _, out := range st.subs {
			out.Drop()
		}
	}
	return c.store.Delete(docID)
}

// Run drives the periodic flush of documents whose last persist
// failed. It returns when ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.flushDirty()
			return
		case <-ticker.C:
			c.flushDirty()
		}
	}
}

func (c *Coordinator) flushDirty() {
	type pending struct {
		docID string
		snap  *doc.SerializedDocument
	}
	var work []pending
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for docID, st := range sh.docs {
			if st.dirty {
				work = append(work, pending{docID: docID, snap: st.doc.Snapshot()})
			}
		}
		sh.mu.Unlock()
	}
	for _, p := range work {
		if err := c.store.Put(p.docID, p.snap); err != nil {
			c.log.WithError(err).WithField("doc", p.docID).Warn("flush retry failed")
			continue
		}
		c.clearDirty(p.docID)
	}
}
