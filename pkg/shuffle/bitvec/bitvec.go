// Package bitvec implements the per-reducer bit-vector primitive: each
// bitset is a small struct with its own mutex, and acquire/release pairs
// sit exclusively around bit reads and writes, never spanning I/O. The
// fetcher keeps two independent BitVectors, one marking producers
// already merged and one marking producers with an in-flight fetch, and
// never holds one lock while touching the other.
package bitvec

import (
	"math/rand/v2"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// BitVector is a fixed-size, mutex-guarded bit set indexed by producer
// (split) ID.
type BitVector struct {
	mu   sync.Mutex
	bits *bitset.BitSet
}

// New returns a BitVector sized for n producers, all bits clear.
func New(n uint) *BitVector {
	return &BitVector{bits: bitset.New(n)}
}

// Set sets bit i.
func (v *BitVector) Set(i uint) {
	v.mu.Lock()
	v.bits.Set(i)
	v.mu.Unlock()
}

// Clear clears bit i.
func (v *BitVector) Clear(i uint) {
	v.mu.Lock()
	v.bits.Clear(i)
	v.mu.Unlock()
}

// Test reports whether bit i is set.
func (v *BitVector) Test(i uint) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bits.Test(i)
}

// Count returns the number of set bits.
func (v *BitVector) Count() uint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bits.Count()
}

// AllOnes reports whether every one of n bits is set.
func (v *BitVector) AllOnes(n uint) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bits.Count() == n
}

// snapshot copies the first n bits out from under the lock, so a caller
// combining two BitVectors never holds both locks at once: locks here
// are always acquired one at a time, with no nesting.
func (v *BitVector) snapshot(n uint) []bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]bool, n)
	for i := uint(0); i < n; i++ {
		out[i] = v.bits.Test(i)
	}
	return out
}

// SelectRandomClearIn returns a uniformly random index i < n such that bit
// i is clear in both v and other, or -1 if no such index exists. Each
// BitVector is snapshotted under its own lock, one at a time, then
// eligibility and the random draw both happen after every lock has been
// released.
func SelectRandomClearIn(v, other *BitVector, n uint) int {
	vBits := v.snapshot(n)
	otherBits := other.snapshot(n)

	eligible := make([]uint, 0, n)
	for i := uint(0); i < n; i++ {
		if !vBits[i] && !otherBits[i] {
			eligible = append(eligible, i)
		}
	}

	if len(eligible) == 0 {
		return -1
	}
	return int(eligible[rand.IntN(len(eligible))])
}
