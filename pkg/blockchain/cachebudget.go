package blockchain

import (
	"sync/atomic"

	"github.com/paprikadb/paprika/pkg/spandict"
)

// CacheBudget implements the transient read-through cache budget of
// spec.md §4.8: a per-block `(entries_per_block, cache_from_depth)` pair.
// When a read resolves a value at ladder depth >= cache_from_depth, the
// budget decides whether that value may be written back into the local
// block as a cache entry (MetaCached) or only as a use-once entry
// (MetaUseOnce) once the budget is exhausted.
type CacheBudget struct {
	entriesPerBlock int64
	cacheFromDepth  int
	remaining       atomic.Int64
}

// NewCacheBudget builds a budget for one block's lifetime.
func NewCacheBudget(entriesPerBlock int64, cacheFromDepth int) *CacheBudget {
	cb := &CacheBudget{entriesPerBlock: entriesPerBlock, cacheFromDepth: cacheFromDepth}
	cb.remaining.Store(entriesPerBlock)

	return cb
}

// ClassifyAt reports whether a value read at the given ladder depth (0 =
// the block's own dictionaries, increasing per ancestor, and finally the
// leased read-only store batch) should be written back locally as a
// read-through cache entry, and with which metadata. depth < cacheFromDepth
// reports ok=false: a hit that shallow needs no caching at all.
func (cb *CacheBudget) ClassifyAt(depth int) (meta spandict.Metadata, ok bool) {
	if depth < cb.cacheFromDepth {
		return 0, false
	}

	for {
		old := cb.remaining.Load()
		if old <= 0 {
			return spandict.MetaUseOnce, true
		}

		if cb.remaining.CompareAndSwap(old, old-1) {
			return spandict.MetaCached, true
		}
	}
}

// Reset restores the budget to entriesPerBlock, for a WorldState.Reset().
func (cb *CacheBudget) Reset() {
	cb.remaining.Store(cb.entriesPerBlock)
}
