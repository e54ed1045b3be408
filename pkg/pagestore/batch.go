package pagestore

import (
	"fmt"
	"unsafe"

	"github.com/paprikadb/paprika/pkg/refcount"
)

// CommitOption selects the durability level of Batch.Commit (spec.md §4.2).
type CommitOption int

const (
	// FlushDataAndRoot flushes data, advances the root counter, then
	// flushes the root page: fully durable across crash.
	FlushDataAndRoot CommitOption = iota

	// FlushDataOnly flushes data and advances the counter in memory, but
	// does not flush the root page: a crash can lose the root advance.
	FlushDataOnly

	// DangerNoFlush advances the counter and writes metadata in memory
	// without any msync; used when the caller will flush in bulk later.
	DangerNoFlush

	// DangerNoWrite discards the batch's root/metadata advance entirely;
	// test mode only. The pages it allocated are recorded nowhere, so the
	// next batch hands them out again.
	DangerNoWrite
)

// Batch is a single writer's copy-on-write transaction against the store.
// At most one Batch may be open at a time (spec.md §4.2).
type Batch struct {
	store       *Store
	baseCounter uint64
	nextCounter uint64

	meta             metadata
	rootDataPageAddr uint32

	committed bool
	aborted   bool
}

// RootAddr returns the address of this batch's (possibly still being built)
// data root page.
func (b *Batch) RootAddr() uint32 { return b.rootDataPageAddr }

// GetAt returns a page view by address, without any ownership check.
func (b *Batch) GetAt(addr uint32) ([]byte, error) {
	return b.store.mgr.PageAt(addr)
}

// GetAddress computes the page address of a buffer previously returned by
// GetAt/GetNewDirtyPage/GetWritableCopy on this same manager's mapping.
func (b *Batch) GetAddress(page []byte) (uint32, error) {
	if len(page) == 0 {
		return 0, fmt.Errorf("pagestore: empty page view: %w", ErrAddressOutOfRange)
	}

	base := uintptr(unsafe.Pointer(&b.store.mgr.data[0]))
	ptr := uintptr(unsafe.Pointer(&page[0]))

	if ptr < base {
		return 0, ErrAddressOutOfRange
	}

	off := ptr - base
	if off%PageSize != 0 {
		return 0, fmt.Errorf("pagestore: unaligned page view: %w", ErrAddressOutOfRange)
	}

	addr := off / PageSize
	if addr >= uintptr(b.store.mgr.maxPage) {
		return 0, ErrAddressOutOfRange
	}

	return uint32(addr), nil
}

// GetNewDirtyPage reserves an unused page: either a fresh append of
// next_free_page, or one popped from the abandoned list whose generation is
// safely beyond the store's history horizon. The page is marked dirty with
// this batch's pending id but not cleared.
func (b *Batch) GetNewDirtyPage() (uint32, []byte, error) {
	return b.allocatePage()
}

func (b *Batch) allocatePage() (uint32, []byte, error) {
	horizon := int64(b.nextCounter) - int64(b.store.historyDepth) + 1

	// A page abandoned at generation g is still reachable from every root
	// older than g, so a leased snapshot caps the reusable generation too.
	b.store.snapshotsMu.Lock()
	for leased := range b.store.snapshots {
		horizon = min(horizon, int64(leased))
	}
	b.store.snapshotsMu.Unlock()

	for i, e := range b.meta.Abandoned {
		if horizon >= 0 && int64(e.AbandonedAt) <= horizon {
			b.meta.Abandoned = append(b.meta.Abandoned[:i], b.meta.Abandoned[i+1:]...)

			buf, err := b.store.mgr.PageAt(e.Addr)
			if err != nil {
				return 0, nil, err
			}

			WritePageHeader(buf, PageHeader{BatchID: uint32(b.nextCounter % (1 << 32))})

			return e.Addr, buf, nil
		}
	}

	addr := b.meta.NextFreePage
	if addr >= b.store.mgr.maxPage {
		return 0, nil, ErrStoreFull
	}

	buf, err := b.store.mgr.PageAt(addr)
	if err != nil {
		return 0, nil, err
	}

	b.meta.NextFreePage++

	WritePageHeader(buf, PageHeader{BatchID: uint32(b.nextCounter % (1 << 32))})

	return addr, buf, nil
}

// GetWritableCopy returns page unchanged if it already belongs to this
// batch's pending generation; otherwise it allocates a new dirty page,
// copies page's contents into it, and schedules the original for
// abandonment once this batch commits.
func (b *Batch) GetWritableCopy(addr uint32, page []byte) (uint32, []byte, error) {
	if ReadPageHeader(page).BatchID == uint32(b.nextCounter%(1<<32)) {
		return addr, page, nil
	}

	newAddr, newBuf, err := b.allocatePage()
	if err != nil {
		return 0, nil, err
	}

	copy(newBuf, page)
	WritePageHeader(newBuf, PageHeader{BatchID: uint32(b.nextCounter % (1 << 32)), Level: ReadPageHeader(page).Level})

	b.Abandon(addr)

	return newAddr, newBuf, nil
}

// Abandon pushes addr into this batch's pending abandoned-page list.
func (b *Batch) Abandon(addr uint32) {
	b.meta.Abandoned = append(b.meta.Abandoned, abandonedEntry{
		Addr:        addr,
		AbandonedAt: uint32(b.nextCounter % (1 << 32)),
	})
}

// SetBlockInfo records the block number and hash this batch's root will be
// associated with once committed.
func (b *Batch) SetBlockInfo(blockNumber uint32, blockHash [32]byte) {
	b.meta.BlockNumber = blockNumber
	b.meta.BlockHash = blockHash
}

// Commit finalizes the batch per the protocol in spec.md §4.2.
func (b *Batch) Commit(opt CommitOption) error {
	if b.committed || b.aborted {
		return fmt.Errorf("pagestore: commit on a finished batch")
	}

	defer b.store.writerActive.Store(false)
	defer b.store.mu.Unlock()

	if opt == DangerNoWrite {
		b.committed = true

		return nil
	}

	b.meta.BatchID = uint32(b.nextCounter % (1 << 32))
	b.meta.RootDataPage = b.rootDataPageAddr

	metaBuf, err := b.store.mgr.PageAt(b.store.metaSlotAddr(b.nextCounter))
	if err != nil {
		b.markAborted()

		return err
	}

	encodeMetadata(metaBuf, b.meta)

	switch opt {
	case FlushDataOnly:
		if err := b.store.mgr.FlushData(); err != nil {
			return err
		}

		b.store.counter.Store(b.nextCounter)
	case FlushDataAndRoot:
		if err := b.store.mgr.FlushData(); err != nil {
			return err
		}

		b.store.counter.Store(b.nextCounter)

		root, err := b.store.mgr.PageAt(RootPageAddr)
		if err != nil {
			return err
		}

		writeRootCounter(root, b.nextCounter)

		if err := b.store.mgr.FlushRoot(); err != nil {
			return err
		}
	case DangerNoFlush:
		b.store.counter.Store(b.nextCounter)

		root, err := b.store.mgr.PageAt(RootPageAddr)
		if err != nil {
			return err
		}

		writeRootCounter(root, b.nextCounter)
	}

	b.committed = true

	return nil
}

// markAborted marks the batch as aborted; callers must already hold
// store.mu (deferred unlock in Commit still fires).
func (b *Batch) markAborted() {
	b.aborted = true
}

// Abort discards the batch without advancing the store's counter. Pages it
// allocated are recorded in no metadata, so the next batch, which starts
// again from the current metadata, hands them out anew, matching
// DangerNoWrite's semantics for an already-failed batch.
func (b *Batch) Abort() {
	if b.committed || b.aborted {
		return
	}

	b.aborted = true
	b.store.writerActive.Store(false)
	b.store.mu.Unlock()
}

// ReadOnlyBatch is a reference-counted snapshot of the store at a
// particular root counter.
type ReadOnlyBatch struct {
	store        *Store
	counter      uint64
	rootDataPage uint32
	disposable   *refcount.Disposable[*ReadOnlyBatch]
}

// RootAddr returns the address of this snapshot's data root page.
func (r *ReadOnlyBatch) RootAddr() uint32 { return r.rootDataPage }

// Counter returns the root counter this snapshot was taken at.
func (r *ReadOnlyBatch) Counter() uint64 { return r.counter }

// GetAt returns a page view by address.
func (r *ReadOnlyBatch) GetAt(addr uint32) ([]byte, error) {
	return r.store.mgr.PageAt(addr)
}

// AcquireLease adds one more reference on this snapshot; Release must be
// called once for every successful AcquireLease (and once for the lease
// implicitly held since BeginReadOnlyBatch returned it).
func (r *ReadOnlyBatch) AcquireLease() bool { return r.disposable.AcquireLease() }

// Release drops one reference; the snapshot's counter becomes reclaimable
// by the allocator once the last reference is released.
func (r *ReadOnlyBatch) Release() { r.disposable.Release() }
