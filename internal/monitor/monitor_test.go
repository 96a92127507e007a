package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/ringkv/internal/metrics"
	"github.com/zde37/ringkv/internal/ring"
	"github.com/zde37/ringkv/pkg"
	"github.com/zde37/ringkv/pkg/hash"
)

type fakeCluster struct {
	mu      sync.Mutex
	peers   map[string]string
	listErr error
	down    map[string]bool
	values  map[string]map[string]float64
}

func (f *fakeCluster) ListPeers(context.Context, string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]string, len(f.peers))
	for k, v := range f.peers {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCluster) Scrape(_ context.Context, address string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[address] {
		return nil, errors.New("connection refused")
	}
	return f.values[address], nil
}

func newCluster() *fakeCluster {
	return &fakeCluster{
		peers: map[string]string{
			"a": "http://a:5001",
			"b": "http://b:5001",
			"c": "http://c:5001",
		},
		down: map[string]bool{},
		values: map[string]map[string]float64{
			"http://a:5001": {metrics.NameSent: 3, metrics.NameReceived: 1, metrics.NamePeerCount: 2},
			"http://b:5001": {metrics.NameSent: 0, metrics.NameReceived: 2},
			"http://c:5001": {metrics.NameSent: 1, metrics.NameReceived: 1},
		},
	}
}

func newTestPoller(t *testing.T, c *fakeCluster) *Poller {
	t.Helper()
	p, err := NewPoller(c, c, PollerConfig{
		BootstrapURL:  "http://bootstrap:8000",
		Interval:      20 * time.Millisecond,
		ListTimeout:   time.Second,
		ScrapeTimeout: time.Second,
	}, pkg.NewNop())
	require.NoError(t, err)
	return p
}

func TestNewPoller_Validation(t *testing.T) {
	c := newCluster()

	_, err := NewPoller(nil, c, PollerConfig{BootstrapURL: "x", Interval: time.Second}, nil)
	assert.Error(t, err)
	_, err = NewPoller(c, c, PollerConfig{Interval: time.Second}, nil)
	assert.Error(t, err)
	_, err = NewPoller(c, c, PollerConfig{BootstrapURL: "x"}, nil)
	assert.Error(t, err)
}

func TestPoller_Poll(t *testing.T) {
	c := newCluster()
	p := newTestPoller(t, c)

	state, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Nodes, 3)

	a := state.Nodes["a"]
	assert.Equal(t, "http://a:5001", a.Addr)
	assert.Equal(t, 3.0, a.Sent)
	assert.Equal(t, 1.0, a.Recv)
	assert.Equal(t, 2.0, a.PeerCount)
	assert.Equal(t, hash.Text(hash.DigestString("http://a:5001")), a.Hash)

	require.Len(t, state.Links, 3)
	for i, l := range state.Links {
		next := state.Links[(i+1)%len(state.Links)]
		assert.Equal(t, l.Target, next.Source, "links form one cycle")
	}
	assert.Same(t, state, p.State())
}

func idFor(s *State, addr string) string {
	for id, n := range s.Nodes {
		if n.Addr == addr {
			return id
		}
	}
	return ""
}

func TestPoller_LinksFollowRingOrder(t *testing.T) {
	c := newCluster()
	p := newTestPoller(t, c)

	state, err := p.Poll(context.Background())
	require.NoError(t, err)

	// Exactly one edge wraps from the highest hash back to the lowest.
	wraps := 0
	for _, l := range state.Links {
		src := state.Nodes[idFor(state, l.Source)].Hash
		dst := state.Nodes[idFor(state, l.Target)].Hash
		if dst < src {
			wraps++
		}
	}
	assert.Equal(t, 1, wraps)

	// Every edge matches the routing ring's successor relation.
	var recs []*ring.NodeRecord
	for id, n := range state.Nodes {
		recs = append(recs, ring.NewNodeRecord(id, n.Addr))
	}
	r := ring.New(recs...)
	require.Len(t, state.Links, r.Len())
	for _, l := range state.Links {
		next, ok := r.Successor(idFor(state, l.Source))
		require.True(t, ok)
		assert.Equal(t, next.Address, l.Target)
	}
}

func TestPoller_ToleratesFailingPeer(t *testing.T) {
	c := newCluster()
	c.down["http://b:5001"] = true
	p := newTestPoller(t, c)

	state, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.Nodes, 2)
	assert.NotContains(t, state.Nodes, "b")
	assert.Len(t, state.Links, 2)
}

func TestPoller_SingleNodeLinksToItself(t *testing.T) {
	c := newCluster()
	c.peers = map[string]string{"a": "http://a:5001"}
	p := newTestPoller(t, c)

	state, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Link{{Source: "http://a:5001", Target: "http://a:5001"}}, state.Links)
}

func TestPoller_ListFailureKeepsPreviousState(t *testing.T) {
	c := newCluster()
	p := newTestPoller(t, c)

	first, err := p.Poll(context.Background())
	require.NoError(t, err)

	c.mu.Lock()
	c.listErr = errors.New("registry down")
	c.mu.Unlock()

	_, err = p.Poll(context.Background())
	assert.Error(t, err)
	assert.Same(t, first, p.State())
}

func TestPoller_StartPublishes(t *testing.T) {
	c := newCluster()
	p := newTestPoller(t, c)

	var (
		mu      sync.Mutex
		updates int
	)
	p.OnUpdate(func(*State) {
		mu.Lock()
		updates++
		mu.Unlock()
	})

	p.Start(context.Background())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return updates >= 2
	}, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestServer_StateAndWebSocket(t *testing.T) {
	c := newCluster()
	p := newTestPoller(t, c)

	s, err := NewServer(p, "127.0.0.1:0", "", pkg.NewNop())
	require.NoError(t, err)
	handler, err := s.Handler()
	require.NoError(t, err)
	s.Hub().Start()

	srv := httptest.NewServer(handler)
	defer func() {
		srv.Close()
		s.Hub().Stop()
	}()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	p.pollAndPublish(context.Background())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pushed State
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Len(t, pushed.Nodes, 3)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got.Nodes, 3)
	assert.Len(t, got.Links, 3)
}

func TestServer_Dashboard(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>ring</h1>"), 0o644))

	p := newTestPoller(t, newCluster())
	s, err := NewServer(p, "127.0.0.1:0", dir, pkg.NewNop())
	require.NoError(t, err)
	handler, err := s.Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<h1>ring</h1>")
}
