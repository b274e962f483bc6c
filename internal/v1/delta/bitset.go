package delta

import "math/bits"

// Bitset tracks which schema fields changed in one scan. Word 0 holds bits
// 0-63, word 1 bits 64-127, and so on.
type Bitset []uint64

// NewBitset allocates a bitset wide enough for size bits.
func NewBitset(size int) Bitset {
	if size <= 0 {
		return Bitset{}
	}
	return make(Bitset, (size+63)/64)
}

// Set marks bit i. Out-of-range indices are ignored.
func (b Bitset) Set(i int) {
	if i < 0 || i >= len(b)*64 {
		return
	}
	b[i/64] |= 1 << (uint(i) % 64)
}

// Has reports whether bit i is set.
func (b Bitset) Has(i int) bool {
	if i < 0 || i >= len(b)*64 {
		return false
	}
	return b[i/64]&(1<<(uint(i)%64)) != 0
}

// Any reports whether any bit is set.
func (b Bitset) Any() bool {
	for _, w := range b {
		if w != 0 {
			return true
		}
	}
	return false
}

// Count returns the number of set bits.
func (b Bitset) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// Words exposes the raw words for wire encoding.
func (b Bitset) Words() []uint64 { return b }
