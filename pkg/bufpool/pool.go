// Package bufpool implements the slab buffer pool of spec.md §4.6: a fixed
// number of page-sized, aligned buffers rented out and returned, with
// optional leak tracking for debug builds.
//
// Grounded on the teacher-adjacent BufferPool's fixed-capacity cache (one
// large backing allocation sized up front, a capacity ceiling, Stats()
// accessors) but re-expressed around a single slab and a buffered channel as
// the thread-safe free list, the idiomatic Go free-list shape, instead of
// the source's doubly linked LRU list (this pool has no eviction policy —
// every page handed out must come back before another can be rented).
package bufpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DefaultPageSize matches pagestore.PageSize; bufpool does not import
// pagestore to avoid a needless dependency between two otherwise
// independent packages.
const DefaultPageSize = 4096

// DefaultCapacity mirrors the source buffer pool's own default of 64 pages.
const DefaultCapacity = 64

// Options configures a Pool.
type Options struct {
	// PageSize is the size of every rented buffer. Defaults to DefaultPageSize.
	PageSize int

	// Capacity is the maximum number of pages the pool will ever hand out
	// concurrently. Defaults to DefaultCapacity.
	Capacity int

	// TrackLeaks enables bookkeeping of every outstanding rental so Close can
	// report pages that were never returned. Costs one map operation per
	// Rent/Return; meant for tests and debug builds, not the hot path.
	TrackLeaks bool
}

// Pool is a fixed-capacity slab of page-sized buffers.
type Pool struct {
	pageSize int
	capacity int
	free     chan []byte
	slab     []byte

	trackLeaks  bool
	leakMu      sync.Mutex
	outstanding map[uintptr]struct{}

	rented   atomic.Uint64
	returned atomic.Uint64
}

// New allocates one capacity*pageSize backing slab up front and slices it
// into capacity page-sized buffers.
func New(opts Options) *Pool {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	p := &Pool{
		pageSize:   pageSize,
		capacity:   capacity,
		free:       make(chan []byte, capacity),
		slab:       make([]byte, capacity*pageSize),
		trackLeaks: opts.TrackLeaks,
	}

	if p.trackLeaks {
		p.outstanding = make(map[uintptr]struct{}, capacity)
	}

	for i := range capacity {
		off := i * pageSize
		p.free <- p.slab[off : off+pageSize : off+pageSize]
	}

	return p
}

// Rent checks out one page-sized buffer. If clear is true its contents are
// zeroed first; otherwise it carries whatever a previous renter left behind.
func (p *Pool) Rent(clear bool) ([]byte, error) {
	select {
	case buf := <-p.free:
		if clear {
			for i := range buf {
				buf[i] = 0
			}
		}

		p.rented.Add(1)

		if p.trackLeaks {
			p.leakMu.Lock()
			p.outstanding[bufID(buf)] = struct{}{}
			p.leakMu.Unlock()
		}

		return buf, nil
	default:
		return nil, ErrPoolExhausted
	}
}

// Return checks buf back in. buf must be a slice previously returned by
// Rent on this same pool, not yet returned.
func (p *Pool) Return(buf []byte) error {
	if len(buf) != p.pageSize {
		return ErrWrongSize
	}

	if p.trackLeaks {
		p.leakMu.Lock()

		id := bufID(buf)
		if _, ok := p.outstanding[id]; !ok {
			p.leakMu.Unlock()

			return ErrNotRented
		}

		delete(p.outstanding, id)
		p.leakMu.Unlock()
	}

	p.returned.Add(1)
	p.free <- buf

	return nil
}

func bufID(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

// PageSize returns the size of every buffer this pool hands out.
func (p *Pool) PageSize() int { return p.pageSize }

// Stats reports point-in-time pool usage.
type Stats struct {
	Capacity    int
	Rented      uint64
	Returned    uint64
	Outstanding int
}

// Stats returns the pool's current usage counters.
func (p *Pool) Stats() Stats {
	outstanding := 0

	if p.trackLeaks {
		p.leakMu.Lock()
		outstanding = len(p.outstanding)
		p.leakMu.Unlock()
	} else {
		outstanding = int(p.rented.Load() - p.returned.Load())
	}

	return Stats{
		Capacity:    p.capacity,
		Rented:      p.rented.Load(),
		Returned:    p.returned.Load(),
		Outstanding: outstanding,
	}
}

// Close reports any pages still checked out, when leak tracking is enabled.
// It does not release the pool's backing memory; that happens when the
// Pool itself is garbage collected.
func (p *Pool) Close() error {
	if !p.trackLeaks {
		return nil
	}

	p.leakMu.Lock()
	n := len(p.outstanding)
	p.leakMu.Unlock()

	if n > 0 {
		return fmt.Errorf("%w: %d page(s)", ErrLeaked, n)
	}

	return nil
}
