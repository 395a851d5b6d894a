package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/config"
	"github.com/daviddao/docsync/pkg/doc"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Log.Level = "error"
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.closeAll() })

	httpSrv := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(httpSrv.Close)
	return "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendMsg(t *testing.T, ws *websocket.Conn, m Message) {
	t.Helper()
	data, err := m.Encode()
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readMsg(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	m, err := DecodeMessage(data)
	require.NoError(t, err)
	return m
}

func authAndSubscribe(t *testing.T, ws *websocket.Conn, token, docID string, known clock.Vector) Message {
	t.Helper()
	sendMsg(t, ws, Message{Type: TypeAuth, Token: token})
	require.Equal(t, TypeAuthOK, readMsg(t, ws).Type)
	sendMsg(t, ws, Message{Type: TypeSubscribe, DocumentID: docID, KnownClock: known})
	ack := readMsg(t, ws)
	require.Equal(t, TypeSubscribeAck, ack.Type)
	return ack
}

func TestEndToEndDeltaFlow(t *testing.T) {
	url := startTestServer(t)

	receiver := dial(t, url)
	ack := authAndSubscribe(t, receiver, "alice", "doc-1", clock.NewVector())
	require.NotNil(t, ack.Delta)
	assert.Empty(t, ack.Delta.Changes)

	sender := dial(t, url)
	authAndSubscribe(t, sender, "bob", "doc-1", clock.NewVector())

	local := doc.New("doc-1", "bob-laptop")
	_, err := local.Set("title", []byte(`"hello"`))
	require.NoError(t, err)
	delta := local.DiffSince(clock.NewVector())
	sendMsg(t, sender, Message{Type: TypeDelta, DocumentID: "doc-1", Delta: &delta})

	got := readMsg(t, receiver)
	require.Equal(t, TypeDelta, got.Type)
	require.NotNil(t, got.Delta)
	require.Len(t, got.Delta.Changes, 1)
	assert.Equal(t, "title", got.Delta.Changes[0].Path)
	assert.Equal(t, `"hello"`, string(got.Delta.Changes[0].Value))
}

func TestCatchUpOnResubscribe(t *testing.T) {
	url := startTestServer(t)

	receiver := dial(t, url)
	authAndSubscribe(t, receiver, "carol", "doc-1", clock.NewVector())

	writer := dial(t, url)
	authAndSubscribe(t, writer, "alice", "doc-1", clock.NewVector())
	local := doc.New("doc-1", "alice-phone")
	for _, kv := range [][2]string{{"f1", `1`}, {"f2", `2`}} {
		_, err := local.Set(kv[0], []byte(kv[1]))
		require.NoError(t, err)
	}
	delta := local.DiffSince(clock.NewVector())
	sendMsg(t, writer, Message{Type: TypeDelta, DocumentID: "doc-1", Delta: &delta})

	// The broadcast reaching the receiver means the server has applied
	// the delta; the late joiner now sees settled state.
	require.Equal(t, TypeDelta, readMsg(t, receiver).Type)

	// A client that already knows f1's stamp gets only f2.
	late := dial(t, url)
	ack := authAndSubscribe(t, late, "bob", "doc-1", clock.Vector{"alice-phone": 1})
	require.Len(t, ack.Delta.Changes, 1)
	assert.Equal(t, "f2", ack.Delta.Changes[0].Path)
}

func TestEmptyTokenRejected(t *testing.T) {
	url := startTestServer(t)
	ws := dial(t, url)

	sendMsg(t, ws, Message{Type: TypeAuth, Token: ""})
	m := readMsg(t, ws)
	assert.Equal(t, TypeError, m.Type)
	assert.Equal(t, CodeBadRequest, m.Code)
}

func TestSubscribeBeforeAuthRejected(t *testing.T) {
	url := startTestServer(t)
	ws := dial(t, url)

	sendMsg(t, ws, Message{Type: TypeSubscribe, DocumentID: "doc-1"})
	m := readMsg(t, ws)
	assert.Equal(t, TypeError, m.Type)
	assert.Equal(t, CodeNotAuthenticated, m.Code)
}

func TestMalformedMessageGetsBadRequest(t *testing.T) {
	url := startTestServer(t)
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	m := readMsg(t, ws)
	assert.Equal(t, TypeError, m.Type)
	assert.Equal(t, CodeBadRequest, m.Code)
}

func TestPingPong(t *testing.T) {
	url := startTestServer(t)
	ws := dial(t, url)

	sendMsg(t, ws, Message{Type: TypePing})
	assert.Equal(t, TypePong, readMsg(t, ws).Type)
}

func TestDeltaWithoutSubscribeRejected(t *testing.T) {
	url := startTestServer(t)
	ws := dial(t, url)

	sendMsg(t, ws, Message{Type: TypeAuth, Token: "alice"})
	require.Equal(t, TypeAuthOK, readMsg(t, ws).Type)

	local := doc.New("doc-1", "a")
	_, err := local.Set("f", []byte(`1`))
	require.NoError(t, err)
	delta := local.DiffSince(clock.NewVector())
	sendMsg(t, ws, Message{Type: TypeDelta, DocumentID: "doc-1", Delta: &delta})

	m := readMsg(t, ws)
	assert.Equal(t, TypeError, m.Type)
	assert.Equal(t, CodeNotAuthenticated, m.Code)
}
