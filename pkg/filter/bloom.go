// Package filter implements the per-block negative-lookup filter of
// spec.md §4.7/§9: a mutable bloom filter accumulated while a block is
// open, frozen into an immutable XOR8 filter at commit.
package filter

import (
	"github.com/holiman/bloomfilter/v2"
)

// DefaultFalsePositiveRate matches the target false-positive rate the
// teacher's dependency pack (ethereum-go-ethereum, AKJUS-bsc-erigon) uses
// for similar per-block/per-range bloom filters.
const DefaultFalsePositiveRate = 0.01

// MutableBloom wraps github.com/holiman/bloomfilter/v2 for the write-time
// stage of a block's filter: entries are added as keys are written, and
// MayContain is consulted by the try_get_local read ladder to skip blocks
// that provably never saw a key.
type MutableBloom struct {
	f *bloomfilter.Filter
}

// NewMutableBloom sizes a bloom filter for up to maxElements entries at
// DefaultFalsePositiveRate.
func NewMutableBloom(maxElements uint64) (*MutableBloom, error) {
	if maxElements == 0 {
		maxElements = 1
	}

	f, err := bloomfilter.NewOptimal(maxElements, DefaultFalsePositiveRate)
	if err != nil {
		return nil, err
	}

	return &MutableBloom{f: f}, nil
}

// Add records hash as possibly-present.
func (b *MutableBloom) Add(hash uint64) {
	b.f.Add(filterHash(hash))
}

// MayContain reports whether hash might have been added; false is a
// definitive negative, true requires falling through to an authoritative
// lookup.
func (b *MutableBloom) MayContain(hash uint64) bool {
	return b.f.Contains(filterHash(hash))
}

// filterHash adapts a plain uint64 key hash to bloomfilter/v2's Hashable.
type filterHash uint64

func (h filterHash) Sum64() uint64 { return uint64(h) }
