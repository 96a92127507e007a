package membership

import (
	"slices"
	"sync"

	"github.com/zde37/ringkv/internal/ring"
)

// Table is one node's view of the cluster: identity -> NodeRecord.
// It never contains the local node; the local node is added to every ring
// built from the table. Entries are never removed.
type Table struct {
	mu    sync.RWMutex
	self  *ring.NodeRecord
	peers map[string]*ring.NodeRecord

	// cached ring, rebuilt on first use after a mutation
	ring *ring.Ring
}

// NewTable creates an empty table owned by the node with the given identity.
func NewTable(selfID, selfAddress string) *Table {
	return &Table{
		self:  ring.NewNodeRecord(selfID, selfAddress),
		peers: make(map[string]*ring.NodeRecord),
	}
}

// Self returns a copy of the local node's record.
func (t *Table) Self() *ring.NodeRecord {
	return t.self.Copy()
}

// Register inserts or overwrites the mapping for id. Registering the local
// identity is a no-op. It reports whether id was not known before.
func (t *Table) Register(id, address string) bool {
	if id == t.self.ID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.put(id, address)
}

// ImportFrom registers every entry of an external id -> address mapping in
// one critical section, skipping the local identity. It returns the
// identities that were not known before, sorted.
func (t *Table) ImportFrom(peers map[string]string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []string
	for id, addr := range peers {
		if id == t.self.ID {
			continue
		}
		if t.put(id, addr) {
			added = append(added, id)
		}
	}
	slices.Sort(added)
	return added
}

// put stores the mapping and reports whether id is new. Callers hold mu.
func (t *Table) put(id, address string) bool {
	existing, known := t.peers[id]
	if known && existing.Address == address {
		return false
	}

	t.peers[id] = ring.NewNodeRecord(id, address)
	t.ring = nil
	return !known
}

// List returns a snapshot of the peer mapping. Later mutations are not
// reflected in the returned map.
func (t *Table) List() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]string, len(t.peers))
	for id, rec := range t.peers {
		out[id] = rec.Address
	}
	return out
}

// Len returns the number of known peers, excluding the local node.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Ring returns the ring of all known peers plus the local node.
func (t *Table) Ring() *ring.Ring {
	t.mu.RLock()
	r := t.ring
	t.mu.RUnlock()
	if r != nil {
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ring == nil {
		records := make([]*ring.NodeRecord, 0, len(t.peers)+1)
		records = append(records, t.self)
		for _, rec := range t.peers {
			records = append(records, rec)
		}
		t.ring = ring.New(records...)
	}
	return t.ring
}
