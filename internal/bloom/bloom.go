// Package bloom implements the bit-packed Bloom filter used to prefilter
// indicator lookups.
//
// A Filter answers "possibly present" or "definitely absent" for entries.
// Entries cannot be enumerated. Index positions are derived from the
// SHA-256 digests of the entry so that filters persisted by other clients of
// the same node can be loaded and queried without recomputation.
package bloom

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// MaxIndexBits is the amount of index material available per entry.
const MaxIndexBits = 512

const materialSize = 2 * sha256.Size

// Filter is a Bloom filter over string entries.
//
// Add mutates the bit array and must not run concurrently with other calls.
// Contains is safe for concurrent use once the filter is no longer written.
type Filter struct {
	numBits    int
	numIdx     int
	numIdxBits int
	bits       []byte
	valid      bool
}

// New sizes a filter for n entries with false-positive probability p.
func New(n int, p float64) *Filter {
	if n < 1 {
		n = 1
	}
	if p <= 0 || p >= 1 || math.IsNaN(p) {
		return &Filter{}
	}
	k := int(math.Ceil(-math.Log2(p)))
	m := int(math.Ceil(float64(k*n) / math.Ln2))
	return NewDirect(m, k)
}

// NewDirect creates a filter with m bits and k indices per entry.
// The filter is invalid when k·ceil(log2 m) exceeds MaxIndexBits.
func NewDirect(m, k int) *Filter {
	if m < 1 || k < 1 {
		return &Filter{}
	}
	b := int(math.Ceil(math.Log2(float64(m))))
	return &Filter{
		numBits:    m,
		numIdx:     k,
		numIdxBits: b,
		bits:       make([]byte, (m+7)>>3),
		valid:      k*b <= MaxIndexBits,
	}
}

// Valid reports whether the filter can be used for lookups.
func (f *Filter) Valid() bool {
	return f != nil && f.valid
}

// NumBits returns m, the size of the bit array.
func (f *Filter) NumBits() int { return f.numBits }

// NumIndices returns k, the number of bit positions per entry.
func (f *Filter) NumIndices() int { return f.numIdx }

// NumIndexBits returns b, the width of one index in bits.
func (f *Filter) NumIndexBits() int { return f.numIdxBits }

// Add sets all bit positions derived from entry.
func (f *Filter) Add(entry string) {
	if !f.Valid() {
		return
	}
	for _, idx := range f.indices(entry) {
		f.bits[idx>>3] |= 1 << (idx & 7)
	}
}

// Contains reports whether entry may be in the set. It never returns false
// for an added entry. An invalid filter contains nothing.
func (f *Filter) Contains(entry string) bool {
	if !f.Valid() {
		return false
	}
	for _, idx := range f.indices(entry) {
		if f.bits[idx>>3]&(1<<(idx&7)) == 0 {
			return false
		}
	}
	return true
}

// indices returns the k bit positions of entry, not necessarily distinct.
func (f *Filter) indices(entry string) []int {
	var material [materialSize]byte
	first := sha256.Sum256([]byte(entry))
	second := sha256.Sum256([]byte(entry + entry))
	copy(material[:sha256.Size], first[:])
	copy(material[sha256.Size:], second[:])

	mask := uint64(1)<<uint(f.numIdxBits) - 1
	list := make([]int, f.numIdx)
	for i := 0; i < f.numIdx; i++ {
		offset := i * f.numIdxBits
		pos := offset >> 3
		var v uint64
		for j := 0; j < 4; j++ {
			var b byte
			if k := materialSize - 4 - pos + j; k >= 0 && k < materialSize {
				b = material[k]
			}
			v = v<<8 | uint64(b)
		}
		list[i] = int(((v >> uint(offset&7)) & mask) % uint64(f.numBits))
	}
	return list
}

// persisted is the on-disk form of a filter.
type persisted struct {
	NumBits    int    `json:"numBits"`
	NumIdx     int    `json:"numIdx"`
	NumIdxBits int    `json:"numIdxBits"`
	Bits       []byte `json:"bits"`
}

// MarshalJSON encodes the filter parameters and its bit array (base64).
func (f *Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(persisted{
		NumBits:    f.numBits,
		NumIdx:     f.numIdx,
		NumIdxBits: f.numIdxBits,
		Bits:       f.bits,
	})
}

// UnmarshalJSON restores a filter without recomputing its parameters.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.NumBits < 1 || p.NumIdx < 1 {
		return fmt.Errorf("bloom: invalid parameters m=%d k=%d", p.NumBits, p.NumIdx)
	}
	if len(p.Bits) != (p.NumBits+7)>>3 {
		return fmt.Errorf("bloom: bit array has %d bytes, want %d", len(p.Bits), (p.NumBits+7)>>3)
	}
	*f = Filter{
		numBits:    p.NumBits,
		numIdx:     p.NumIdx,
		numIdxBits: p.NumIdxBits,
		bits:       p.Bits,
		valid:      p.NumIdx*p.NumIdxBits <= MaxIndexBits,
	}
	return nil
}

// Save writes the filter to path, replacing any previous file.
func (f *Filter) Save(path string) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write filter: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a filter written by Save.
func Load(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := &Filter{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decode filter %s: %w", path, err)
	}
	return f, nil
}
