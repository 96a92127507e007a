package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zde37/ringkv/internal/config"
	"github.com/zde37/ringkv/internal/membership"
	"github.com/zde37/ringkv/internal/metrics"
	"github.com/zde37/ringkv/internal/ring"
	"github.com/zde37/ringkv/internal/snapshot"
	"github.com/zde37/ringkv/pkg"
	"github.com/zde37/ringkv/pkg/hash"
)

// truncateID safely truncates an identity for log fields.
func truncateID(id string, maxLen int) string {
	if len(id) > maxLen {
		return id[:maxLen]
	}
	return id
}

// Node is one storage peer. It owns the local membership view, the local
// key/value map, and routes every key operation either to that map or, in a
// single hop, to the owning peer.
type Node struct {
	// Node identity
	self *ring.NodeRecord

	// Configuration
	config *config.Config

	members *membership.Table
	store   *Store
	metrics *metrics.Counter

	logger *pkg.Logger

	// Remote client for forwarding to owners
	remote RemoteClient

	broadcaster   RingUpdateBroadcaster
	broadcasterMu sync.RWMutex

	shutdown   bool
	shutdownMu sync.RWMutex
}

// PutResult describes where a put was applied.
type PutResult struct {
	Owner *ring.NodeRecord // Owner as resolved by this node
	Relay *Relay           // Owner's response when forwarded; nil when stored locally
}

// Local reports whether the put was stored on this node.
func (r *PutResult) Local() bool {
	return r.Relay == nil
}

// GetResult is either a local hit or the owner's relayed response.
type GetResult struct {
	Key   string
	Value []byte
	Owner *ring.NodeRecord
	Relay *Relay
}

// Local reports whether the value was read from this node.
func (r *GetResult) Local() bool {
	return r.Relay == nil
}

// NewNode creates a node with the given configuration. When a snapshot path
// is configured the previous snapshot is restored and every later local
// write is persisted in the background.
func NewNode(cfg *config.Config, logger *pkg.Logger) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	members := membership.NewTable(cfg.NodeID, cfg.Address())
	self := members.Self()

	nodeLogger := logger.WithFields(pkg.Fields{"node_id": truncateID(cfg.NodeID, 8)})

	storage := pkg.NewMemoryStorage()
	var writer *snapshot.Writer
	if cfg.SnapshotPath != "" {
		writer = snapshot.NewWriter(cfg.SnapshotPath, cfg.NodeID, storage.GetAll, nodeLogger)
	}
	store := NewStore(storage, writer)

	if cfg.SnapshotPath != "" {
		restored, err := store.Restore(cfg.SnapshotPath)
		if err != nil {
			nodeLogger.Warn().Err(err).Str("path", cfg.SnapshotPath).Msg("Ignoring unreadable snapshot")
		} else if restored > 0 {
			nodeLogger.Info().Int("keys", restored).Msg("Restored keys from snapshot")
		}
		writer.Start()
	}

	n := &Node{
		self:    self,
		config:  cfg,
		members: members,
		store:   store,
		metrics: metrics.NewCounter(),
		logger:  nodeLogger,
	}

	n.logger.Info().
		Str("address", self.Address).
		Str("position", hash.Short(self.Position, 16)).
		Msg("Node created")

	return n, nil
}

// ID returns the node's identity.
func (n *Node) ID() string {
	return n.self.ID
}

// Address returns the address the node registers under.
func (n *Node) Address() string {
	return n.self.Address
}

// Self returns a copy of the node's own ring record.
func (n *Node) Self() *ring.NodeRecord {
	return n.self.Copy()
}

// Metrics returns the node's message counters.
func (n *Node) Metrics() *metrics.Counter {
	return n.metrics
}

// Store returns the node-local key/value map.
func (n *Node) Store() *Store {
	return n.store
}

// SetRemote sets the client used to forward operations to owners.
func (n *Node) SetRemote(remote RemoteClient) {
	n.remote = remote
}

// SetBroadcaster sets the sink for membership change events.
func (n *Node) SetBroadcaster(b RingUpdateBroadcaster) {
	n.broadcasterMu.Lock()
	defer n.broadcasterMu.Unlock()
	n.broadcaster = b
}

// Register records a peer. Registering this node's own identity is a no-op.
// It reports whether the identity was new.
func (n *Node) Register(id, address string) bool {
	if id == n.self.ID {
		n.logger.Debug().Msg("Ignoring self registration")
		return false
	}

	added := n.members.Register(id, address)
	if added {
		n.logger.Info().
			Str("peer_id", truncateID(id, 8)).
			Str("peer_addr", address).
			Int("peer_count", n.members.Len()).
			Msg("Registered new peer")
		n.broadcastJoin(id, address)
	}
	return added
}

// ImportPeers registers every entry of an external peer list, skipping this
// node, and returns the identities that were new, sorted.
func (n *Node) ImportPeers(peers map[string]string) []string {
	added := n.members.ImportFrom(peers)
	for _, id := range added {
		n.logger.Info().
			Str("peer_id", truncateID(id, 8)).
			Str("peer_addr", peers[id]).
			Msg("Imported new peer")
		n.broadcastJoin(id, peers[id])
	}
	return added
}

// Peers returns a snapshot of the membership table.
func (n *Node) Peers() map[string]string {
	return n.members.List()
}

// PeerCount returns the number of known peers, excluding this node.
func (n *Node) PeerCount() int {
	return n.members.Len()
}

// Ring returns the current ring, this node included.
func (n *Node) Ring() *ring.Ring {
	return n.members.Ring()
}

// Owner resolves the owner of key under the current membership view.
// An empty ring cannot happen in practice since the node is always on its
// own ring, but it still resolves to self.
func (n *Node) Owner(key string) *ring.NodeRecord {
	owner, ok := n.members.Ring().Owner(key)
	if !ok {
		return n.self.Copy()
	}
	return owner
}

func (n *Node) isSelf(rec *ring.NodeRecord) bool {
	return rec.ID == n.self.ID
}

// Put stores value under key on the owning node. When forwarded is true the
// request already took its single hop and is stored here regardless of this
// node's own view of ownership.
func (n *Node) Put(ctx context.Context, key string, value []byte, forwarded bool) (*PutResult, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key cannot be empty", pkg.ErrMalformedRequest)
	}

	if forwarded {
		n.metrics.IncRecv()
		if err := n.store.Put(ctx, key, value); err != nil {
			return nil, fmt.Errorf("local storage put failed: %w", err)
		}
		n.logger.Debug().Str("key", key).Msg("Stored forwarded key")
		return &PutResult{Owner: n.self.Copy()}, nil
	}

	owner := n.Owner(key)
	if n.isSelf(owner) {
		if err := n.store.Put(ctx, key, value); err != nil {
			return nil, fmt.Errorf("local storage put failed: %w", err)
		}

		n.logger.Debug().
			Str("key", key).
			Int("value_size", len(value)).
			Msg("Stored key locally")

		return &PutResult{Owner: owner}, nil
	}

	n.logger.Debug().
		Str("key", key).
		Str("owner_addr", owner.Address).
		Int("value_size", len(value)).
		Msg("Forwarding put to owner")

	relay, err := n.forward(ctx, owner, func(ctx context.Context, remote RemoteClient) (*Relay, error) {
		return remote.ForwardPut(ctx, owner.Address, key, value)
	})
	if err != nil {
		return nil, err
	}
	return &PutResult{Owner: owner, Relay: relay}, nil
}

// Get reads key from the owning node. A miss on the owner is reported as
// pkg.ErrKeyNotFound. When forwarded is true the read is served here.
func (n *Node) Get(ctx context.Context, key string, forwarded bool) (*GetResult, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key cannot be empty", pkg.ErrMalformedRequest)
	}

	if forwarded {
		n.metrics.IncRecv()
		return n.getLocal(ctx, key, n.self.Copy())
	}

	owner := n.Owner(key)
	if n.isSelf(owner) {
		return n.getLocal(ctx, key, owner)
	}

	n.logger.Debug().
		Str("key", key).
		Str("owner_addr", owner.Address).
		Msg("Forwarding get to owner")

	relay, err := n.forward(ctx, owner, func(ctx context.Context, remote RemoteClient) (*Relay, error) {
		return remote.ForwardGet(ctx, owner.Address, key)
	})
	if err != nil {
		return nil, err
	}
	return &GetResult{Key: key, Owner: owner, Relay: relay}, nil
}

func (n *Node) getLocal(ctx context.Context, key string, owner *ring.NodeRecord) (*GetResult, error) {
	value, err := n.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, pkg.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", pkg.ErrKeyNotFound, key)
		}
		return nil, fmt.Errorf("local storage get failed: %w", err)
	}
	return &GetResult{Key: key, Value: value, Owner: owner}, nil
}

// forward performs exactly one remote call to the owner. There is no retry,
// no re-resolution and no local fallback. No lock is held during the call.
func (n *Node) forward(ctx context.Context, owner *ring.NodeRecord, call func(context.Context, RemoteClient) (*Relay, error)) (*Relay, error) {
	if n.remote == nil {
		return nil, fmt.Errorf("%w: remote client not set", pkg.ErrForwardingFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.ForwardTimeout)
	defer cancel()

	n.metrics.IncSent()
	relay, err := call(ctx, n.remote)
	if err != nil {
		n.logger.Warn().
			Err(err).
			Str("owner_id", truncateID(owner.ID, 8)).
			Str("owner_addr", owner.Address).
			Msg("Forwarding to owner failed")
		if errors.Is(err, pkg.ErrForwardingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: owner %s: %v", pkg.ErrForwardingFailed, owner.Address, err)
	}
	return relay, nil
}

func (n *Node) broadcastJoin(id, address string) {
	n.broadcasterMu.RLock()
	b := n.broadcaster
	n.broadcasterMu.RUnlock()
	if b == nil {
		return
	}

	event := RingUpdateEvent{
		Type:      EventNodeJoin,
		NodeID:    id,
		Address:   address,
		PeerCount: n.members.Len(),
		Timestamp: time.Now().Unix(),
		Message:   fmt.Sprintf("peer %s joined at %s", truncateID(id, 8), address),
	}
	if err := b.BroadcastRingUpdate(event); err != nil {
		n.logger.Debug().Err(err).Msg("Failed to broadcast ring update")
	}
}

// Shutdown flushes any pending snapshot and closes the store.
func (n *Node) Shutdown() error {
	n.shutdownMu.Lock()
	if n.shutdown {
		n.shutdownMu.Unlock()
		return nil // Already shutdown
	}
	n.shutdown = true
	n.shutdownMu.Unlock()

	n.logger.Info().Msg("Shutting down node")

	if err := n.store.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Failed to close store")
		return err
	}

	n.logger.Info().Msg("Node shutdown complete")
	return nil
}

// IsShutdown returns whether the node has been shutdown.
func (n *Node) IsShutdown() bool {
	n.shutdownMu.RLock()
	defer n.shutdownMu.RUnlock()
	return n.shutdown
}
