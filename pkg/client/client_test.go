package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/docsync/pkg/config"
	"github.com/daviddao/docsync/pkg/doc"
	"github.com/daviddao/docsync/pkg/server"
	"github.com/daviddao/docsync/pkg/store"
)

func startServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Log.Level = "error"
	s, err := server.New(ctx, cfg)
	require.NoError(t, err)

	httpSrv := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(httpSrv.Close)
	return "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
}

func TestOpenSaveRoundTrip(t *testing.T) {
	c := New("ws://unused", "tok", "laptop", store.NewMemory())
	err := c.Mutate("doc-1", func(d *doc.Document) error {
		_, err := d.Set("title", []byte(`"x"`))
		return err
	})
	require.NoError(t, err)

	// A second client over the same store sees the persisted state.
	c2 := New("ws://unused", "tok", "laptop", c.store)
	d, err := c2.Open("doc-1")
	require.NoError(t, err)
	v, ok := d.Get("title")
	require.True(t, ok)
	assert.Equal(t, `"x"`, string(v))
}

func TestSyncConvergesTwoClients(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	alice := New(url, "alice", "alice-laptop", store.NewMemory())
	bob := New(url, "bob", "bob-phone", store.NewMemory())

	require.NoError(t, alice.Mutate("doc-1", func(d *doc.Document) error {
		_, err := d.Set("title", []byte(`"from alice"`))
		return err
	}))
	require.NoError(t, bob.Mutate("doc-1", func(d *doc.Document) error {
		_, err := d.Set("priority", []byte(`"high"`))
		return err
	}))

	// Alice pushes, bob pulls alice's write and pushes his own,
	// alice pulls bob's.
	require.NoError(t, alice.Sync(ctx, "doc-1"))
	require.NoError(t, bob.Sync(ctx, "doc-1"))
	require.NoError(t, alice.Sync(ctx, "doc-1"))

	for _, c := range []*Client{alice, bob} {
		d, err := c.Open("doc-1")
		require.NoError(t, err)
		title, ok := d.Get("title")
		require.True(t, ok, "%s missing title", c.Replica())
		assert.Equal(t, `"from alice"`, string(title))
		prio, ok := d.Get("priority")
		require.True(t, ok, "%s missing priority", c.Replica())
		assert.Equal(t, `"high"`, string(prio))
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	c := New(url, "alice", "laptop", store.NewMemory())
	require.NoError(t, c.Mutate("doc-1", func(d *doc.Document) error {
		_, err := d.Set("f", []byte(`1`))
		return err
	}))
	require.NoError(t, c.Sync(ctx, "doc-1"))
	require.NoError(t, c.Sync(ctx, "doc-1"))

	d, err := c.Open("doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Clock().Get("laptop"),
		"resyncing must not invent writes")
}

func TestWatchReceivesRemoteDelta(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := New(url, "alice", "alice-laptop", store.NewMemory())
	got := make(chan doc.Delta, 8)
	go func() {
		_ = watcher.Watch(ctx, "doc-1", func(d doc.Delta) { got <- d })
	}()

	// Give the watcher time to subscribe, then push from another replica.
	var delivered doc.Delta
	writer := New(url, "bob", "bob-phone", store.NewMemory())
	require.NoError(t, writer.Mutate("doc-1", func(d *doc.Document) error {
		_, err := d.Set("title", []byte(`"live"`))
		return err
	}))
	require.Eventually(t, func() bool {
		_ = writer.Sync(ctx, "doc-1")
		select {
		case delivered = <-got:
			return true
		default:
			return false
		}
	}, 10*time.Second, 100*time.Millisecond)

	require.NotEmpty(t, delivered.Changes)
	assert.Equal(t, "title", delivered.Changes[0].Path)

	d, err := watcher.Open("doc-1")
	require.NoError(t, err)
	v, ok := d.Get("title")
	require.True(t, ok)
	assert.Equal(t, `"live"`, string(v))
}

func TestSyncOfflineEditsConverge(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	a := New(url, "alice", "aaa", store.NewMemory())
	b := New(url, "bob", "zzz", store.NewMemory())

	// Both edit the same field offline at clock 1; zzz wins the tie.
	require.NoError(t, a.Mutate("doc-1", func(d *doc.Document) error {
		_, err := d.Set("title", []byte(`"from aaa"`))
		return err
	}))
	require.NoError(t, b.Mutate("doc-1", func(d *doc.Document) error {
		_, err := d.Set("title", []byte(`"from zzz"`))
		return err
	}))

	require.NoError(t, a.Sync(ctx, "doc-1"))
	require.NoError(t, b.Sync(ctx, "doc-1"))
	require.NoError(t, a.Sync(ctx, "doc-1"))

	for _, c := range []*Client{a, b} {
		d, err := c.Open("doc-1")
		require.NoError(t, err)
		v, ok := d.Get("title")
		require.True(t, ok)
		assert.Equal(t, `"from zzz"`, string(v), "replica %s", c.Replica())
	}
}
