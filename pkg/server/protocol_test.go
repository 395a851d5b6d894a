package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"
)

func TestDecodeMessageAuth(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"auth","token":"secret"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeAuth, m.Type)
	assert.Equal(t, "secret", m.Token)
}

func TestDecodeMessageSubscribeWithClock(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"subscribe","document_id":"d1","known_clock":{"a":3}}`))
	require.NoError(t, err)
	assert.Equal(t, "d1", m.DocumentID)
	assert.Equal(t, uint64(3), m.KnownClock.Get("a"))
}

func TestDecodeMessageRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"launch_missiles"}`,
		`{"type":"auth"}`,
		`{"type":"subscribe"}`,
		`{"type":"unsubscribe"}`,
		`{"type":"delta","document_id":"d1"}`,
		`{"type":"delta","delta":{"document_id":"d1","changes":[]}}`,
		`{}`,
	}
	for _, raw := range cases {
		_, err := DecodeMessage([]byte(raw))
		assert.Error(t, err, "input %s", raw)
	}
}

func TestDecodeMessagePing(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, m.Type)
}

func TestMessageEncodeRoundTrip(t *testing.T) {
	d := doc.New("d1", "a")
	_, err := d.Set("f", []byte(`1`))
	require.NoError(t, err)
	delta := d.DiffSince(clock.NewVector())

	data, err := deltaMessage(delta).Encode()
	require.NoError(t, err)
	back, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, TypeDelta, back.Type)
	require.NotNil(t, back.Delta)
	require.Len(t, back.Delta.Changes, 1)
	assert.Equal(t, delta.Changes[0].Stamp, back.Delta.Changes[0].Stamp)
}
