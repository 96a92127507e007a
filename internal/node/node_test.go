package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/ringkv/internal/config"
	"github.com/zde37/ringkv/pkg"
)

type call struct {
	op      string
	address string
	key     string
	value   []byte
}

// fakeRemote records forwarded calls and answers with a canned relay.
type fakeRemote struct {
	mu    sync.Mutex
	calls []call
	relay *Relay
	err   error
}

func (f *fakeRemote) ForwardPut(_ context.Context, address, key string, value []byte) (*Relay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "put", address: address, key: key, value: value})
	return f.relay, f.err
}

func (f *fakeRemote) ForwardGet(_ context.Context, address, key string) (*Relay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "get", address: address, key: key})
	return f.relay, f.err
}

func (f *fakeRemote) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []RingUpdateEvent
}

func (b *fakeBroadcaster) BroadcastRingUpdate(update any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, update.(RingUpdateEvent))
	return nil
}

func testConfig(port int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.NodeID = fmt.Sprintf("node-%d", port)
	cfg.Host = "localhost"
	cfg.Port = port
	cfg.ForwardTimeout = time.Second
	return cfg
}

func createTestNode(t *testing.T, port int) *Node {
	t.Helper()

	node, err := NewNode(testConfig(port), pkg.NewNop())
	require.NoError(t, err)
	require.NotNil(t, node)
	t.Cleanup(func() { node.Shutdown() })
	return node
}

// keyOwnedBy finds a key that n currently routes to the given identity.
func keyOwnedBy(t *testing.T, n *Node, id string) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("key-%d", i)
		if n.Owner(key).ID == id {
			return key
		}
	}
	t.Fatalf("no key routes to %s", id)
	return ""
}

func TestNewNode(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		node := createTestNode(t, 5001)

		assert.Equal(t, "node-5001", node.ID())
		assert.Equal(t, "http://localhost:5001", node.Address())
		assert.Equal(t, 0, node.PeerCount())
		assert.False(t, node.IsShutdown())
	})

	t.Run("nil config", func(t *testing.T) {
		node, err := NewNode(nil, pkg.NewNop())
		assert.Error(t, err)
		assert.Nil(t, node)
		assert.Contains(t, err.Error(), "config cannot be nil")
	})

	t.Run("nil logger", func(t *testing.T) {
		node, err := NewNode(config.DefaultConfig(), nil)
		assert.Error(t, err)
		assert.Nil(t, node)
		assert.Contains(t, err.Error(), "logger cannot be nil")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Port = -1

		node, err := NewNode(cfg, pkg.NewNop())
		assert.Error(t, err)
		assert.Nil(t, node)
		assert.Contains(t, err.Error(), "invalid config")
	})
}

func TestNode_Register(t *testing.T) {
	node := createTestNode(t, 5001)
	b := &fakeBroadcaster{}
	node.SetBroadcaster(b)

	t.Run("self registration is a no-op", func(t *testing.T) {
		assert.False(t, node.Register(node.ID(), node.Address()))
		assert.Equal(t, 0, node.PeerCount())
	})

	t.Run("idempotent", func(t *testing.T) {
		assert.True(t, node.Register("peer-1", "http://localhost:5002"))
		assert.False(t, node.Register("peer-1", "http://localhost:5002"))
		assert.Equal(t, 1, node.PeerCount())
	})

	t.Run("import skips self", func(t *testing.T) {
		added := node.ImportPeers(map[string]string{
			node.ID(): node.Address(),
			"peer-1":  "http://localhost:5002",
			"peer-2":  "http://localhost:5003",
		})
		assert.Equal(t, []string{"peer-2"}, added)
		assert.Equal(t, 2, node.PeerCount())
		assert.Equal(t, 3, node.Ring().Len())
	})

	t.Run("join events broadcast", func(t *testing.T) {
		b.mu.Lock()
		defer b.mu.Unlock()
		require.Len(t, b.events, 2)
		assert.Equal(t, EventNodeJoin, b.events[0].Type)
		assert.Equal(t, "peer-1", b.events[0].NodeID)
		assert.Equal(t, "peer-2", b.events[1].NodeID)
	})
}

func TestNode_LocalPutGet(t *testing.T) {
	ctx := context.Background()
	node := createTestNode(t, 5001)

	put, err := node.Put(ctx, "x", []byte("1"), false)
	require.NoError(t, err)
	assert.True(t, put.Local())
	assert.Equal(t, node.ID(), put.Owner.ID)

	got, err := node.Get(ctx, "x", false)
	require.NoError(t, err)
	assert.True(t, got.Local())
	assert.Equal(t, []byte("1"), got.Value)

	_, err = node.Put(ctx, "x", []byte("2"), false)
	require.NoError(t, err)
	got, err = node.Get(ctx, "x", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got.Value, "put overwrites unconditionally")
}

func TestNode_GetMissing(t *testing.T) {
	node := createTestNode(t, 5001)

	got, err := node.Get(context.Background(), "missing", false)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, pkg.ErrKeyNotFound)
}

func TestNode_EmptyKey(t *testing.T) {
	node := createTestNode(t, 5001)

	_, err := node.Put(context.Background(), "", []byte("v"), false)
	assert.ErrorIs(t, err, pkg.ErrMalformedRequest)

	_, err = node.Get(context.Background(), "", false)
	assert.ErrorIs(t, err, pkg.ErrMalformedRequest)
}

func TestNode_Forwarding(t *testing.T) {
	ctx := context.Background()
	node := createTestNode(t, 5001)
	node.Register("peer-1", "http://localhost:5002")

	relay := &Relay{
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
		Body:        []byte(`{"status":"stored","nodeId":"peer-1"}`),
	}
	remote := &fakeRemote{relay: relay}
	node.SetRemote(remote)

	key := keyOwnedBy(t, node, "peer-1")

	t.Run("put is relayed verbatim", func(t *testing.T) {
		res, err := node.Put(ctx, key, []byte("v"), false)
		require.NoError(t, err)
		assert.False(t, res.Local())
		assert.Same(t, relay, res.Relay)
		assert.Equal(t, "peer-1", res.Owner.ID)

		_, err = node.Store().Get(ctx, key)
		assert.ErrorIs(t, err, pkg.ErrKeyNotFound, "non-owner must not keep a copy")
	})

	t.Run("get is relayed verbatim", func(t *testing.T) {
		res, err := node.Get(ctx, key, false)
		require.NoError(t, err)
		assert.False(t, res.Local())
		assert.Same(t, relay, res.Relay)
	})

	calls := remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, call{op: "put", address: "http://localhost:5002", key: key, value: []byte("v")}, calls[0])
	assert.Equal(t, "get", calls[1].op)
	assert.Equal(t, uint64(2), node.Metrics().Sent())
}

func TestNode_ForwardingFailed(t *testing.T) {
	ctx := context.Background()
	node := createTestNode(t, 5001)
	node.Register("peer-1", "http://localhost:5002")
	key := keyOwnedBy(t, node, "peer-1")

	t.Run("transport error", func(t *testing.T) {
		remote := &fakeRemote{err: errors.New("connection refused")}
		node.SetRemote(remote)

		_, err := node.Put(ctx, key, []byte("v"), false)
		assert.ErrorIs(t, err, pkg.ErrForwardingFailed)

		_, err = node.Get(ctx, key, false)
		assert.ErrorIs(t, err, pkg.ErrForwardingFailed)

		assert.Len(t, remote.Calls(), 2, "exactly one attempt per operation")
		assert.Equal(t, 0, node.Store().Len(), "no fallback to local storage")
	})

	t.Run("no remote client", func(t *testing.T) {
		node.SetRemote(nil)
		_, err := node.Put(ctx, key, []byte("v"), false)
		assert.ErrorIs(t, err, pkg.ErrForwardingFailed)
	})
}

func TestNode_ForwardedRequestsTerminate(t *testing.T) {
	ctx := context.Background()
	node := createTestNode(t, 5001)
	node.Register("peer-1", "http://localhost:5002")

	remote := &fakeRemote{err: errors.New("must not be called")}
	node.SetRemote(remote)

	// From this node's (stale) view the key belongs to peer-1, but the
	// request already took its hop, so it is served here.
	key := keyOwnedBy(t, node, "peer-1")

	put, err := node.Put(ctx, key, []byte("v"), true)
	require.NoError(t, err)
	assert.True(t, put.Local())

	got, err := node.Get(ctx, key, true)
	require.NoError(t, err)
	assert.True(t, got.Local())
	assert.Equal(t, []byte("v"), got.Value)

	_, err = node.Get(ctx, "missing-"+key, true)
	assert.ErrorIs(t, err, pkg.ErrKeyNotFound)

	assert.Empty(t, remote.Calls())
	assert.Equal(t, uint64(3), node.Metrics().Recv())
}

func TestNode_DivergentViews(t *testing.T) {
	ctx := context.Background()
	a := createTestNode(t, 5001)
	b := createTestNode(t, 5002)

	// b knows a, a does not know b yet.
	b.Register(a.ID(), a.Address())
	key := keyOwnedBy(t, b, b.ID())

	_, err := a.Put(ctx, key, []byte("from-a"), false)
	require.NoError(t, err)
	_, err = b.Put(ctx, key, []byte("from-b"), false)
	require.NoError(t, err)

	va, err := a.Store().Get(ctx, key)
	require.NoError(t, err)
	vb, err := b.Store().Get(ctx, key)
	require.NoError(t, err)

	assert.Equal(t, []byte("from-a"), va)
	assert.Equal(t, []byte("from-b"), vb)
}

func TestNode_Determinism(t *testing.T) {
	nodes := []*Node{
		createTestNode(t, 5001),
		createTestNode(t, 5002),
		createTestNode(t, 5003),
	}
	for _, n := range nodes {
		for _, other := range nodes {
			n.Register(other.ID(), other.Address())
		}
	}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("k-%d", i)
		want := nodes[0].Owner(key).ID
		for _, n := range nodes[1:] {
			assert.Equal(t, want, n.Owner(key).ID, "key %s", key)
		}
	}
}

func TestNode_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "node.snapshot")

	cfg := testConfig(5001)
	cfg.SnapshotPath = path

	first, err := NewNode(cfg, pkg.NewNop())
	require.NoError(t, err)
	_, err = first.Put(ctx, "x", []byte("1"), false)
	require.NoError(t, err)
	_, err = first.Put(ctx, "y", []byte("2"), false)
	require.NoError(t, err)
	require.NoError(t, first.Shutdown())
	assert.True(t, first.IsShutdown())

	cfg2 := testConfig(5001)
	cfg2.SnapshotPath = path
	second, err := NewNode(cfg2, pkg.NewNop())
	require.NoError(t, err)
	defer second.Shutdown()

	got, err := second.Get(ctx, "y", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got.Value)
	assert.Equal(t, 2, second.Store().Len())
}
