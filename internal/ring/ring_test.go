package ring

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/ringkv/pkg/hash"
)

func fixedRecord(id, addr string, pos int64) *NodeRecord {
	return &NodeRecord{ID: id, Address: addr, Position: big.NewInt(pos)}
}

func testRing() *Ring {
	return New(
		NewNodeRecord("a", "http://localhost:5001"),
		NewNodeRecord("b", "http://localhost:5002"),
		NewNodeRecord("c", "http://localhost:5003"),
		NewNodeRecord("d", "http://localhost:5004"),
	)
}

func TestNew(t *testing.T) {
	t.Run("sorted by position", func(t *testing.T) {
		r := New(
			fixedRecord("c", "addr-c", 30),
			fixedRecord("a", "addr-a", 10),
			fixedRecord("b", "addr-b", 20),
		)
		recs := r.Records()
		require.Len(t, recs, 3)
		assert.Equal(t, "a", recs[0].ID)
		assert.Equal(t, "b", recs[1].ID)
		assert.Equal(t, "c", recs[2].ID)
	})

	t.Run("skips nil records", func(t *testing.T) {
		r := New(nil, &NodeRecord{ID: "x"}, fixedRecord("a", "addr-a", 1))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("records are copies", func(t *testing.T) {
		rec := fixedRecord("a", "addr-a", 10)
		r := New(rec)
		rec.Position.SetInt64(99)
		owner, ok := r.OwnerOf(big.NewInt(5))
		require.True(t, ok)
		assert.Equal(t, int64(10), owner.Position.Int64())
	})

	t.Run("nil ring", func(t *testing.T) {
		var r *Ring
		assert.Equal(t, 0, r.Len())
		assert.Nil(t, r.Records())
	})
}

func TestRing_OwnerOf(t *testing.T) {
	r := New(
		fixedRecord("a", "addr-a", 10),
		fixedRecord("b", "addr-b", 20),
		fixedRecord("c", "addr-c", 30),
	)

	tests := []struct {
		name string
		id   int64
		want string
	}{
		{"below first", 0, "a"},
		{"exact match", 20, "b"},
		{"between", 21, "c"},
		{"exact last", 30, "c"},
		{"wraps around", 31, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, ok := r.OwnerOf(big.NewInt(tt.id))
			require.True(t, ok)
			assert.Equal(t, tt.want, owner.ID)
		})
	}

	t.Run("max id wraps around", func(t *testing.T) {
		maxID := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), hash.M), big.NewInt(1))
		owner, ok := r.OwnerOf(maxID)
		require.True(t, ok)
		assert.Equal(t, "a", owner.ID)
	})
}

func TestRing_OwnerEmpty(t *testing.T) {
	r := New()
	owner, ok := r.Owner("anything")
	assert.False(t, ok)
	assert.Nil(t, owner)
}

func TestRing_TieBreak(t *testing.T) {
	r := New(
		fixedRecord("z", "http://b", 10),
		fixedRecord("y", "http://a", 10),
	)

	owner, ok := r.OwnerOf(big.NewInt(5))
	require.True(t, ok)
	assert.Equal(t, "http://a", owner.Address, "lexicographically smaller address wins a tie")

	// Insertion order must not matter.
	r2 := New(
		fixedRecord("y", "http://a", 10),
		fixedRecord("z", "http://b", 10),
	)
	owner2, ok := r2.OwnerOf(big.NewInt(5))
	require.True(t, ok)
	assert.Equal(t, owner.ID, owner2.ID)
}

func TestRing_Determinism(t *testing.T) {
	a := testRing()
	// Same members, different discovery order.
	b := New(
		NewNodeRecord("d", "http://localhost:5004"),
		NewNodeRecord("b", "http://localhost:5002"),
		NewNodeRecord("a", "http://localhost:5001"),
		NewNodeRecord("c", "http://localhost:5003"),
	)

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", i)
		ownerA, okA := a.Owner(key)
		ownerB, okB := b.Owner(key)
		require.True(t, okA)
		require.True(t, okB)
		assert.Equal(t, ownerA.ID, ownerB.ID, "key %s", key)

		again, _ := a.Owner(key)
		assert.Equal(t, ownerA.ID, again.ID)
	}
}

func TestRing_Coverage(t *testing.T) {
	r := testRing()
	members := map[string]bool{}
	for _, rec := range r.Records() {
		members[rec.ID] = true
	}

	for i := 0; i < 1000; i++ {
		owner, ok := r.Owner(fmt.Sprintf("k%d", i))
		require.True(t, ok)
		require.NotNil(t, owner)
		assert.True(t, members[owner.ID])
	}
}

func TestRing_WrapAroundWithDigests(t *testing.T) {
	r := testRing()
	recs := r.Records()
	highest := recs[len(recs)-1].Position

	found := false
	for i := 0; i < 10000 && !found; i++ {
		key := fmt.Sprintf("wrap-%d", i)
		if hash.DigestString(key).Cmp(highest) <= 0 {
			continue
		}
		found = true
		owner, ok := r.Owner(key)
		require.True(t, ok)
		assert.Equal(t, recs[0].ID, owner.ID, "key above every position belongs to the lowest member")
	}
	require.True(t, found, "expected a key hashing above every member")
}

func TestRing_Successor(t *testing.T) {
	r := New(
		fixedRecord("a", "addr-a", 10),
		fixedRecord("b", "addr-b", 20),
	)

	succ, ok := r.Successor("a")
	require.True(t, ok)
	assert.Equal(t, "b", succ.ID)

	succ, ok = r.Successor("b")
	require.True(t, ok)
	assert.Equal(t, "a", succ.ID)

	_, ok = r.Successor("missing")
	assert.False(t, ok)

	single := New(fixedRecord("a", "addr-a", 10))
	succ, ok = single.Successor("a")
	require.True(t, ok)
	assert.Equal(t, "a", succ.ID)
}
