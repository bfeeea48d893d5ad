// Package dsa holds small data structures shared by the engine.
package dsa

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// ─── Bloom Filter ───────────────────────────────────────────────────────────
// Probabilistic set of keys already seen, e.g. settlement references the
// ledger has credited. Answers:
//   - No  → definitely not seen (zero false negatives)
//   - Yes → probably seen; callers confirm against the authoritative record
//
// Space: ~14.4 bits per key at a 0.1% false positive rate.

// BloomConfig sizes a Bloom filter.
type BloomConfig struct {
	ExpectedItems int     // keys the filter should hold at FPRate
	FPRate        float64 // target false positive rate, e.g. 0.001
}

// DefaultBloomConfig sizes for 100k keys at 0.1%: about 180 KB.
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{
		ExpectedItems: 100_000,
		FPRate:        0.001,
	}
}

// BloomFilter is a concurrency-safe Bloom filter.
type BloomFilter struct {
	mu      sync.RWMutex
	bits    []uint64
	numBits uint
	numHash uint
	count   int
}

// NewBloomFilter creates a filter sized for cfg:
//
//	m = -(n * ln(p)) / (ln(2)^2)   bits
//	k = (m/n) * ln(2)              hash functions
func NewBloomFilter(cfg BloomConfig) *BloomFilter {
	def := DefaultBloomConfig()
	if cfg.ExpectedItems <= 0 {
		cfg.ExpectedItems = def.ExpectedItems
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = def.FPRate
	}

	n := float64(cfg.ExpectedItems)
	m := uint(math.Ceil(-(n * math.Log(cfg.FPRate)) / (math.Ln2 * math.Ln2)))
	k := uint(math.Ceil(float64(m) / n * math.Ln2))
	if m == 0 {
		m = 64
	}
	if k == 0 {
		k = 1
	}

	return &BloomFilter{
		bits:    make([]uint64, (m+63)/64),
		numBits: m,
		numHash: k,
	}
}

// Add inserts key.
func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	h1, h2 := baseHashes(key)
	for i := uint(0); i < bf.numHash; i++ {
		pos := bf.nthHash(h1, h2, i)
		bf.bits[pos/64] |= 1 << (pos % 64)
	}
	bf.count++
}

// MaybeContains reports whether key might have been added. False is exact.
func (bf *BloomFilter) MaybeContains(key string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	h1, h2 := baseHashes(key)
	for i := uint(0); i < bf.numHash; i++ {
		pos := bf.nthHash(h1, h2, i)
		if bf.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns how many keys were added, duplicates included.
func (bf *BloomFilter) Count() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.count
}

// EstimatedFPRate is (1 - e^(-kn/m))^k for the current count.
func (bf *BloomFilter) EstimatedFPRate() float64 {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	m := float64(bf.numBits)
	k := float64(bf.numHash)
	n := float64(bf.count)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// baseHashes splits one SHA-256 into two 32-bit hashes; the k positions are
// derived as h1 + i*h2 (Kirsch-Mitzenmacker).
func baseHashes(key string) (uint32, uint32) {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint32(sum[0:4]), binary.BigEndian.Uint32(sum[4:8])
}

func (bf *BloomFilter) nthHash(h1, h2 uint32, i uint) uint {
	return uint((uint64(h1) + uint64(i)*uint64(h2)) % uint64(bf.numBits))
}
