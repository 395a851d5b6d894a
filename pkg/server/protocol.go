// Package server implements the sync coordinator: it owns the server-side
// documents, tracks per-document subscriber sets, applies incoming deltas
// under the LWW rule, and fans applied deltas out to local subscribers
// and to peer servers through the fanout bus.
//
// Transport is WebSocket. Every frame is one JSON envelope (Message)
// tagged by type. The per-connection state machine is
//
//	Unauthenticated -> Authenticated -> Subscribed -> Closed
//
// and lives in conn.go; the shared document/subscriber state lives in
// coordinator.go.
package server

import (
	"encoding/json"
	"fmt"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"
)

// MessageType tags a protocol envelope.
type MessageType string

// Client-to-server message types.
const (
	TypeAuth        MessageType = "auth"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypeDelta       MessageType = "delta"
	TypePing        MessageType = "ping"
)

// Server-to-client message types.
const (
	TypePong         MessageType = "pong"
	TypeAuthOK       MessageType = "auth_ok"
	TypeSubscribeAck MessageType = "subscribe_ack"
	TypeError        MessageType = "error"
)

// Error codes carried by TypeError messages.
const (
	CodeBadRequest       = "bad_request"
	CodeNotAuthenticated = "not_authenticated"
	CodePermissionDenied = "permission_denied"
	CodeInternal         = "internal"
)

// Message is the protocol envelope. Which fields are meaningful depends
// on Type; unused fields are elided from the wire.
type Message struct {
	Type       MessageType  `json:"type"`
	Token      string       `json:"token,omitempty"`
	DocumentID string       `json:"document_id,omitempty"`
	KnownClock clock.Vector `json:"known_clock,omitempty"`
	Delta      *doc.Delta   `json:"delta,omitempty"`
	Code       string       `json:"code,omitempty"`
	Detail     string       `json:"detail,omitempty"`
}

// Encode marshals the envelope for the wire.
func (m Message) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeMessage parses and validates one envelope of either direction.
// It rejects unknown types and envelopes missing the fields their type
// requires, so handlers never see a structurally invalid message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("malformed envelope: %w", err)
	}
	switch m.Type {
	case TypeAuth:
		if m.Token == "" {
			return Message{}, fmt.Errorf("auth without token")
		}
	case TypeSubscribe, TypeUnsubscribe:
		if m.DocumentID == "" {
			return Message{}, fmt.Errorf("%s without document_id", m.Type)
		}
	case TypeDelta:
		if m.DocumentID == "" {
			return Message{}, fmt.Errorf("delta without document_id")
		}
		if m.Delta == nil {
			return Message{}, fmt.Errorf("delta without payload")
		}
	case TypePing, TypePong, TypeAuthOK, TypeSubscribeAck, TypeError:
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}

// errorMessage builds a TypeError reply.
func errorMessage(code, detail string) Message {
	return Message{Type: TypeError, Code: code, Detail: detail}
}

// deltaMessage builds the TypeDelta broadcast for one applied delta.
func deltaMessage(d doc.Delta) Message {
	return Message{Type: TypeDelta, DocumentID: d.DocumentID, Delta: &d}
}

// subscribeAck builds the TypeSubscribeAck carrying the catch-up delta.
func subscribeAck(d doc.Delta) Message {
	return Message{Type: TypeSubscribeAck, DocumentID: d.DocumentID, Delta: &d}
}
