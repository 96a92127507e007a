package ring

import (
	"math/big"
	"slices"
	"sort"
	"strings"

	"github.com/zde37/ringkv/pkg/hash"
)

// Ring is an immutable view of the members sorted ascending by position.
// Records with equal positions are ordered by address, then identity, so
// every node that sees the same members builds the same ring.
type Ring struct {
	records []*NodeRecord
}

// New builds a ring from the given records. Records are copied; nil records
// and records without a position are skipped.
func New(records ...*NodeRecord) *Ring {
	sorted := make([]*NodeRecord, 0, len(records))
	for _, r := range records {
		if r.IsNil() {
			continue
		}
		sorted = append(sorted, r.Copy())
	}

	slices.SortFunc(sorted, compareRecords)
	return &Ring{records: sorted}
}

func compareRecords(a, b *NodeRecord) int {
	if c := a.Position.Cmp(b.Position); c != 0 {
		return c
	}
	if c := strings.Compare(a.Address, b.Address); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Len returns the number of members on the ring.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}

// Records returns copies of the members in ring order.
func (r *Ring) Records() []*NodeRecord {
	if r == nil {
		return nil
	}
	out := make([]*NodeRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Copy()
	}
	return out
}

// Owner returns the member responsible for key: the first member whose
// position is >= digest(key), wrapping to the lowest position.
// It returns false only when the ring is empty.
func (r *Ring) Owner(key string) (*NodeRecord, bool) {
	return r.OwnerOf(hash.DigestString(key))
}

// OwnerOf resolves ownership of an already hashed identifier.
func (r *Ring) OwnerOf(id *big.Int) (*NodeRecord, bool) {
	if r.Len() == 0 || id == nil {
		return nil, false
	}

	i := sort.Search(len(r.records), func(i int) bool {
		return r.records[i].Position.Cmp(id) >= 0
	})
	if i == len(r.records) {
		i = 0
	}
	return r.records[i].Copy(), true
}

// Successor returns the member that follows the member with the given
// identity, clockwise. A single-member ring is its own successor.
func (r *Ring) Successor(id string) (*NodeRecord, bool) {
	for i, rec := range r.records {
		if rec.ID == id {
			return r.records[(i+1)%len(r.records)].Copy(), true
		}
	}
	return nil, false
}
