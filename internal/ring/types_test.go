package ring

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zde37/ringkv/pkg/hash"
)

func TestNewNodeRecord(t *testing.T) {
	rec := NewNodeRecord("id-1", "http://localhost:5001")

	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, "http://localhost:5001", rec.Address)
	assert.Equal(t, hash.DigestString("http://localhost:5001"), rec.Position)
	assert.False(t, rec.IsNil())
}

func TestNodeRecord_Equals(t *testing.T) {
	a := NewNodeRecord("id-1", "http://localhost:5001")

	tests := []struct {
		name  string
		a, b  *NodeRecord
		equal bool
	}{
		{"same", a, NewNodeRecord("id-1", "http://localhost:5001"), true},
		{"different id", a, NewNodeRecord("id-2", "http://localhost:5001"), false},
		{"different address", a, NewNodeRecord("id-1", "http://localhost:5002"), false},
		{"both nil", nil, nil, true},
		{"one nil", a, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equals(tt.b))
		})
	}
}

func TestNodeRecord_Copy(t *testing.T) {
	orig := &NodeRecord{ID: "x", Address: "addr", Position: big.NewInt(42)}
	cp := orig.Copy()

	assert.True(t, orig.Equals(cp))
	cp.Position.SetInt64(7)
	assert.Equal(t, int64(42), orig.Position.Int64())

	var nilRec *NodeRecord
	assert.Nil(t, nilRec.Copy())
	assert.True(t, nilRec.IsNil())
	assert.Equal(t, "NodeRecord{nil}", nilRec.String())
}

func TestNodeRecord_String(t *testing.T) {
	rec := NewNodeRecord("id-1", "http://localhost:5001")
	assert.Contains(t, rec.String(), "id-1")
	assert.Contains(t, rec.String(), "http://localhost:5001")
}
