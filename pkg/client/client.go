// Package client implements the replica side of the sync protocol: a
// local document store plus a WebSocket session that pushes local
// writes and folds remote deltas in.
//
// The client is resilient by reconnection, not by buffering: if the
// session drops, it redials with exponential backoff and resubscribes
// with its current vector clock, and the server's catch-up delta
// closes whatever gap accumulated. Local writes made while offline are
// pushed the same way — the first sync after reconnect diffs the local
// document against the server's clock.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"
	"github.com/daviddao/docsync/pkg/server"
	"github.com/daviddao/docsync/pkg/store"
)

// ErrServerRejected reports a protocol-level error reply during the
// handshake.
var ErrServerRejected = errors.New("server rejected request")

// Client owns local documents and syncs them against one server.
// Methods on one Client are safe for concurrent use; per-document
// mutation is serialized internally.
type Client struct {
	url     string
	token   string
	replica string
	store   store.Adapter

	mu   sync.Mutex
	docs map[string]*doc.Document
}

// New returns a client for the given WebSocket URL. replica is this
// installation's stable identity; st persists its documents.
func New(url, token, replica string, st store.Adapter) *Client {
	return &Client{
		url:     url,
		token:   token,
		replica: replica,
		store:   st,
		docs:    make(map[string]*doc.Document),
	}
}

// Replica returns the client's replica identifier.
func (c *Client) Replica() string { return c.replica }

// Open returns the local document with the given id, loading it from
// the store or creating it empty.
func (c *Client) Open(docID string) (*doc.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(docID)
}

func (c *Client) openLocked(docID string) (*doc.Document, error) {
	if d, ok := c.docs[docID]; ok {
		return d, nil
	}
	var d *doc.Document
	snap, err := c.store.Get(docID)
	switch {
	case err == nil:
		d = doc.FromSnapshot(snap, c.replica)
	case store.IsNotFound(err):
		d = doc.New(docID, c.replica)
	default:
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}
	c.docs[docID] = d
	return d, nil
}

// Save persists the document's current snapshot.
func (c *Client) Save(d *doc.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Put(d.ID(), d.Snapshot())
}

// Mutate runs fn against the local document under the client's lock
// and persists the result.
func (c *Client) Mutate(docID string, fn func(*doc.Document) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, err := c.openLocked(docID)
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	return c.store.Put(docID, d.Snapshot())
}

// session is one authenticated, subscribed connection.
type session struct {
	ws *websocket.Conn
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn
	op := func() error {
		var err error
		ws, _, err = websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		return err
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return ws, nil
}

func (s *session) send(m server.Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *session) recv() (server.Message, error) {
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return server.Message{}, err
	}
	return server.DecodeMessage(data)
}

// recvType reads until a message of the wanted type arrives, failing
// on protocol errors. Deltas arriving mid-handshake are returned to
// the caller for later application.
func (s *session) recvType(want server.MessageType) (server.Message, []server.Message, error) {
	var skipped []server.Message
	for {
		m, err := s.recv()
		if err != nil {
			return server.Message{}, skipped, err
		}
		switch m.Type {
		case want:
			return m, skipped, nil
		case server.TypeError:
			return server.Message{}, skipped, fmt.Errorf("%w: %s: %s", ErrServerRejected, m.Code, m.Detail)
		default:
			skipped = append(skipped, m)
		}
	}
}

// handshake authenticates and subscribes. It returns the catch-up ack
// plus any deltas that raced ahead of it — a broadcast can land between
// the server registering the subscription and the ack going out, and
// those deltas are not in the ack's catch-up.
func (c *Client) handshake(s *session, docID string, known clock.Vector) (server.Message, []server.Message, error) {
	if err := s.send(server.Message{Type: server.TypeAuth, Token: c.token}); err != nil {
		return server.Message{}, nil, err
	}
	if _, _, err := s.recvType(server.TypeAuthOK); err != nil {
		return server.Message{}, nil, err
	}
	if err := s.send(server.Message{Type: server.TypeSubscribe, DocumentID: docID, KnownClock: known}); err != nil {
		return server.Message{}, nil, err
	}
	ack, early, err := s.recvType(server.TypeSubscribeAck)
	return ack, early, err
}

// Sync performs one round trip for docID: pull the server's catch-up
// delta, push everything local the server lacks, persist, disconnect.
func (c *Client) Sync(ctx context.Context, docID string) error {
	d, err := c.Open(docID)
	if err != nil {
		return err
	}

	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	s := &session{ws: ws}

	ack, early, err := c.handshake(s, docID, d.Clock())
	if err != nil {
		return err
	}

	c.mu.Lock()
	serverClock := clock.NewVector()
	if ack.Delta != nil {
		if err := d.ApplyDelta(*ack.Delta); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("apply catch-up: %w", err)
		}
		serverClock = ack.Delta.Clock
	}
	for _, m := range early {
		if m.Type == server.TypeDelta && m.Delta != nil {
			if err := d.ApplyDelta(*m.Delta); err != nil {
				c.mu.Unlock()
				return fmt.Errorf("apply catch-up: %w", err)
			}
		}
	}
	push := d.DiffSince(serverClock)
	snap := d.Snapshot()
	c.mu.Unlock()

	if !push.Empty() {
		if err := s.send(server.Message{Type: server.TypeDelta, DocumentID: docID, Delta: &push}); err != nil {
			return fmt.Errorf("push delta: %w", err)
		}
		// The server handles a connection's messages in order, so a
		// pong bounced after the delta means the delta was applied.
		if err := s.send(server.Message{Type: server.TypePing}); err != nil {
			return fmt.Errorf("push delta: %w", err)
		}
		if _, _, err := s.recvType(server.TypePong); err != nil {
			return fmt.Errorf("push delta: %w", err)
		}
	}
	return c.store.Put(docID, snap)
}

// Watch keeps a live subscription to docID until ctx is cancelled,
// applying and persisting every incoming delta and passing it to
// handler. The connection is re-established with backoff on failure.
func (c *Client) Watch(ctx context.Context, docID string, handler func(doc.Delta)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.watchOnce(ctx, docID, handler); err != nil && ctx.Err() == nil {
			// Transient: redial after a beat. Permanent rejections
			// (auth, access) surface to the caller.
			if errors.Is(err, ErrServerRejected) {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, docID string, handler func(doc.Delta)) error {
	d, err := c.Open(docID)
	if err != nil {
		return err
	}
	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	s := &session{ws: ws}

	ack, early, err := c.handshake(s, docID, d.Clock())
	if err != nil {
		return err
	}
	serverClock := clock.NewVector()
	if ack.Delta != nil {
		serverClock = ack.Delta.Clock
		if !ack.Delta.Empty() {
			if err := c.applyAndSave(d, *ack.Delta); err != nil {
				return err
			}
			handler(*ack.Delta)
		}
	}
	for _, m := range early {
		if m.Type == server.TypeDelta && m.Delta != nil {
			if err := c.applyAndSave(d, *m.Delta); err != nil {
				return err
			}
			handler(*m.Delta)
		}
	}

	// Push anything the server lacks before settling into receive.
	c.mu.Lock()
	push := d.DiffSince(serverClock)
	c.mu.Unlock()
	if !push.Empty() {
		if err := s.send(server.Message{Type: server.TypeDelta, DocumentID: docID, Delta: &push}); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		ws.Close()
	}()
	for {
		m, err := s.recv()
		if err != nil {
			return err
		}
		if m.Type != server.TypeDelta || m.Delta == nil {
			continue
		}
		if err := c.applyAndSave(d, *m.Delta); err != nil {
			return err
		}
		handler(*m.Delta)
	}
}

func (c *Client) applyAndSave(d *doc.Document, delta doc.Delta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := d.ApplyDelta(delta); err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}
	return c.store.Put(d.ID(), d.Snapshot())
}
