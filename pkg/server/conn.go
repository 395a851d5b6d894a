package server

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// connState is the per-connection protocol state.
type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateSubscribed
	stateClosed
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// conn is one WebSocket connection. The read pump drives the state
// machine; the write pump drains the bounded send queue. The
// coordinator talks to the connection only through the Outbound
// interface, never the socket.
type conn struct {
	id        string
	ws        *websocket.Conn
	coord     *Coordinator
	auth      Authorizer
	log       *log.Entry
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the read pump; no lock needed.
	state     connState
	principal string
	docs      map[string]struct{}
}

func newConn(ws *websocket.Conn, coord *Coordinator, auth Authorizer, queue int, logger *log.Entry) *conn {
	id := uuid.NewString()
	return &conn{
		id:    id,
		ws:    ws,
		coord: coord,
		auth:  auth,
		log:   logger.WithField("conn", id),
		send:  make(chan []byte, queue),
		done:  make(chan struct{}),
		docs:  make(map[string]struct{}),
	}
}

// ID implements Outbound.
func (c *conn) ID() string { return c.id }

// Enqueue implements Outbound: non-blocking offer to the send queue.
func (c *conn) Enqueue(m Message) bool {
	data, err := m.Encode()
	if err != nil {
		c.log.WithError(err).Error("encode outbound message")
		return true
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Drop implements Outbound.
func (c *conn) Drop() { c.close() }

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// run services the connection until it closes, then clears its
// subscriptions.
func (c *conn) run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
	c.state = stateClosed
	c.close()
	c.coord.UnsubscribeAll(c.id)
	c.log.Debug("connection closed")
}

func (c *conn) readPump(ctx context.Context) {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		msg, err := DecodeMessage(data)
		if err != nil {
			c.reply(errorMessage(CodeBadRequest, err.Error()))
			continue
		}
		if !c.handle(ctx, msg) {
			return
		}
	}
}

// handle advances the state machine for one inbound message. A false
// return closes the connection.
func (c *conn) handle(ctx context.Context, msg Message) bool {
	switch msg.Type {
	case TypePing:
		c.reply(Message{Type: TypePong})
		return true
	case TypePong:
		return true
	case TypeAuth:
		return c.handleAuth(msg)
	case TypeSubscribe:
		return c.handleSubscribe(msg)
	case TypeUnsubscribe:
		return c.handleUnsubscribe(msg)
	case TypeDelta:
		return c.handleDelta(ctx, msg)
	default:
		c.reply(errorMessage(CodeBadRequest, "unexpected message type"))
		return true
	}
}

func (c *conn) handleAuth(msg Message) bool {
	if c.state != stateUnauthenticated {
		c.reply(errorMessage(CodeBadRequest, "already authenticated"))
		return true
	}
	principal, err := c.auth.Authenticate(msg.Token)
	if err != nil {
		c.reply(errorMessage(CodePermissionDenied, "authentication failed"))
		return false
	}
	c.principal = principal
	c.state = stateAuthenticated
	c.log = c.log.WithField("principal", principal)
	c.reply(Message{Type: TypeAuthOK})
	return true
}

func (c *conn) handleSubscribe(msg Message) bool {
	if c.state == stateUnauthenticated {
		c.reply(errorMessage(CodeNotAuthenticated, "authenticate first"))
		return true
	}
	if !c.auth.CanAccess(c.principal, msg.DocumentID) {
		c.reply(errorMessage(CodePermissionDenied, "no access to document"))
		return true
	}
	catchUp, err := c.coord.Subscribe(msg.DocumentID, c, msg.KnownClock)
	if err != nil {
		c.log.WithError(err).WithField("doc", msg.DocumentID).Error("subscribe")
		c.reply(errorMessage(CodeInternal, "subscribe failed"))
		return true
	}
	c.docs[msg.DocumentID] = struct{}{}
	c.state = stateSubscribed
	c.log.WithFields(log.Fields{"doc": msg.DocumentID, "changes": len(catchUp.Changes)}).
		Info("subscribed")
	c.reply(subscribeAck(catchUp))
	return true
}

func (c *conn) handleUnsubscribe(msg Message) bool {
	if _, ok := c.docs[msg.DocumentID]; !ok {
		c.reply(errorMessage(CodeBadRequest, "not subscribed"))
		return true
	}
	delete(c.docs, msg.DocumentID)
	c.coord.Unsubscribe(msg.DocumentID, c.id)
	if len(c.docs) == 0 {
		c.state = stateAuthenticated
	}
	return true
}

func (c *conn) handleDelta(ctx context.Context, msg Message) bool {
	if c.state != stateSubscribed {
		c.reply(errorMessage(CodeNotAuthenticated, "subscribe before sending deltas"))
		return true
	}
	if _, ok := c.docs[msg.DocumentID]; !ok {
		c.reply(errorMessage(CodeBadRequest, "delta for unsubscribed document"))
		return true
	}
	if !c.auth.CanAccess(c.principal, msg.DocumentID) {
		c.reply(errorMessage(CodePermissionDenied, "no access to document"))
		return true
	}
	delta := *msg.Delta
	if delta.DocumentID == "" {
		delta.DocumentID = msg.DocumentID
	}
	if err := c.coord.HandleDelta(ctx, c.id, delta); err != nil {
		c.log.WithError(err).WithField("doc", msg.DocumentID).Error("apply delta")
		c.reply(errorMessage(CodeBadRequest, err.Error()))
	}
	return true
}

// reply enqueues a direct response. Backpressure applies to replies
// too: a connection too slow to take its own responses is dropped.
func (c *conn) reply(m Message) {
	if !c.Enqueue(m) {
		c.log.Warn("send queue full on reply, dropping connection")
		c.close()
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
