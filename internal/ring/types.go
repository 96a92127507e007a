package ring

import (
	"fmt"
	"math/big"

	"github.com/zde37/ringkv/pkg/hash"
)

// NodeRecord is one member of the ring: an opaque identity, the address it
// serves on, and the ring position derived from that address.
type NodeRecord struct {
	ID       string   // Opaque node identity (uuid in practice)
	Address  string   // Network endpoint, e.g. "http://10.0.0.5:5001"
	Position *big.Int // SHA-1 of Address, 0 to 2^160 - 1
}

// NewNodeRecord creates a record and derives its position from the address.
func NewNodeRecord(id, address string) *NodeRecord {
	return &NodeRecord{
		ID:       id,
		Address:  address,
		Position: hash.DigestString(address),
	}
}

// String returns a human-readable representation of the record.
func (n *NodeRecord) String() string {
	if n == nil {
		return "NodeRecord{nil}"
	}
	return fmt.Sprintf("NodeRecord{ID: %s, Addr: %s, Pos: %s}",
		n.ID, n.Address, hash.Short(n.Position, 8))
}

// Equals checks if two records describe the same member.
func (n *NodeRecord) Equals(other *NodeRecord) bool {
	if n == nil && other == nil {
		return true
	}
	if n == nil || other == nil {
		return false
	}
	return n.ID == other.ID &&
		n.Address == other.Address &&
		hash.Compare(n.Position, other.Position) == 0
}

// Copy creates a deep copy of the record.
func (n *NodeRecord) Copy() *NodeRecord {
	if n == nil {
		return nil
	}
	var pos *big.Int
	if n.Position != nil {
		pos = new(big.Int).Set(n.Position)
	}
	return &NodeRecord{
		ID:       n.ID,
		Address:  n.Address,
		Position: pos,
	}
}

// IsNil checks if the record is nil or has no position.
func (n *NodeRecord) IsNil() bool {
	return n == nil || n.Position == nil
}
