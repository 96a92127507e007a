package hash

import (
	"crypto/sha1"
	"fmt"
	"math/big"
)

// M is the size of the identifier space in bits (2^160)
const M = 160

// Digest hashes arbitrary data to a 160-bit identifier using SHA-1.
// The digest is read as an unsigned big-endian integer, so every node
// computes the same position for the same input.
func Digest(data []byte) *big.Int {
	sum := sha1.Sum(data)
	return new(big.Int).SetBytes(sum[:])
}

// DigestString hashes a string to a 160-bit identifier.
func DigestString(s string) *big.Int {
	return Digest([]byte(s))
}

// Text renders an identifier as a zero-padded 40 character hex string.
func Text(id *big.Int) string {
	if id == nil {
		return ""
	}
	return fmt.Sprintf("%040x", id)
}

// Short returns the first n hex characters of an identifier, for logs.
func Short(id *big.Int, n int) string {
	s := Text(id)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Compare orders two identifiers. A nil identifier sorts before any other.
func Compare(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Cmp(b)
}
