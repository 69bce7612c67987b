package lsm

import (
	"errors"
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"

	"github.com/dd0wney/onechain/pkg/digest"
)

const (
	// BloomHashCount is the number of bit positions per key.
	BloomHashCount = 7
	// DefaultBloomBytes sizes a filter for ~1000 keys at ~1% false positives
	// (m = -n*ln(p)/ln(2)^2 ≈ 9586 bits, rounded to 9600).
	DefaultBloomBytes = 1200

	bloomSeed = 1234

	mix32 = 0xFFFFFFFF
)

// BloomFilter is a fixed-size probabilistic set of digests.
// - False positives possible (may say key exists when it doesn't)
// - False negatives impossible (if it says key doesn't exist, it definitely doesn't)
type BloomFilter struct {
	bits []byte
	size uint64 // in bits
}

// NewBloomFilter creates a filter of DefaultBloomBytes.
func NewBloomFilter() *BloomFilter {
	return NewBloomFilterSized(DefaultBloomBytes)
}

// NewBloomFilterSized creates a filter backed by sizeBytes bytes.
func NewBloomFilterSized(sizeBytes int) *BloomFilter {
	if sizeBytes < 1 {
		sizeBytes = 1
	}
	return &BloomFilter{
		bits: make([]byte, sizeBytes),
		size: uint64(sizeBytes) * 8,
	}
}

// BloomBytesFor returns the filter size in bytes for expectedItems at the
// given false positive rate.
func BloomBytesFor(expectedItems int, falsePositiveRate float64) int {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01 // Default 1%
	}
	m := math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	return int(math.Ceil(m / 8))
}

// Add sets the 7 bits for d.
func (bf *BloomFilter) Add(d digest.Digest) {
	for _, pos := range bf.positions(d) {
		bf.bits[pos/8] |= 1 << (pos % 8)
	}
}

// MayContain returns false if d was definitely never added.
func (bf *BloomFilter) MayContain(d digest.Digest) bool {
	for _, pos := range bf.positions(d) {
		if bf.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Contains is an alias for MayContain for better API usability
func (bf *BloomFilter) Contains(d digest.Digest) bool {
	return bf.MayContain(d)
}

// positions derives 7 bit positions from one seeded XXH64 of the digest.
func (bf *BloomFilter) positions(d digest.Digest) [BloomHashCount]uint64 {
	h := xxhash.NewWithSeed(bloomSeed)
	// Note: hash.Hash.Write never returns an error according to the interface contract
	_, _ = h.Write(d[:])
	base := h.Sum64()

	add1 := base + 0x9e3779b97f4a7c15
	add2 := base + 0xdaba0b6eb09322e3

	return [BloomHashCount]uint64{
		(base >> 32) % bf.size,
		(base & mix32) % bf.size,
		(bits.RotateLeft64(base, 16) & mix32) % bf.size,
		((base * 0x5bd1e995) >> 24 & mix32) % bf.size,
		((add1 ^ add1>>32) & mix32) % bf.size,
		((base * 0xc6a4a7935bd1e995) >> 17 & mix32) % bf.size,
		((add2 ^ bits.RotateLeft64(add2, 21)) & mix32) % bf.size,
	}
}

// Size returns the size of the filter in bits
func (bf *BloomFilter) Size() int {
	return int(bf.size)
}

// HashCount returns the number of bit positions per key
func (bf *BloomFilter) HashCount() int {
	return BloomHashCount
}

// EstimateFalsePositiveRate estimates current false positive rate
func (bf *BloomFilter) EstimateFalsePositiveRate(itemCount int) float64 {
	// p = (1 - e^(-k*n/m))^k
	k := float64(BloomHashCount)
	n := float64(itemCount)
	m := float64(bf.size)

	return math.Pow(1.0-math.Exp(-k*n/m), k)
}

// Reset clears all bits in the filter
func (bf *BloomFilter) Reset() {
	clear(bf.bits)
}

// Merge combines another Bloom filter into this one (OR operation)
// Both filters must have the same size
func (bf *BloomFilter) Merge(other *BloomFilter) error {
	if bf.size != other.size {
		return ErrIncompatibleFilters
	}
	for i := range bf.bits {
		bf.bits[i] |= other.bits[i]
	}
	return nil
}

// MarshalBinary returns a copy of the packed bit array
func (bf *BloomFilter) MarshalBinary() []byte {
	out := make([]byte, len(bf.bits))
	copy(out, bf.bits)
	return out
}

// UnmarshalBinary replaces the filter with data; the filter takes the size of data
func (bf *BloomFilter) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return ErrIncompatibleFilters
	}
	bf.bits = make([]byte, len(data))
	copy(bf.bits, data)
	bf.size = uint64(len(data)) * 8
	return nil
}

var ErrIncompatibleFilters = errors.New("incompatible bloom filters")
