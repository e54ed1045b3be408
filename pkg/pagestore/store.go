package pagestore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/paprikadb/paprika/pkg/refcount"
)

// Options configures a Store.
type Options struct {
	// HistoryDepth is the number of rotating metadata slots (H ≥ 2).
	HistoryDepth uint16

	// NumPages is the total number of 4 KiB pages in the region, including
	// the root page and the H metadata pages.
	NumPages uint32
}

// Store is the paged store described in spec.md §4.2: N rotating metadata
// headers plus a root-counter page, handing out copy-on-write writer
// batches and leased read-only snapshots.
type Store struct {
	mgr          *Manager
	historyDepth uint16

	mu      sync.Mutex // serializes BeginNextBatch / Commit: single writer
	counter atomic.Uint64

	writerActive atomic.Bool

	// snapshots leases every root counter value a live ReadOnlyBatch still
	// references, keyed by counter, so the writer batch's allocator knows
	// which historical roots it must not reclaim abandoned pages from yet.
	snapshotsMu sync.Mutex
	snapshots   map[uint64]int
}

// Open opens or creates a store at path, performing crash recovery per
// spec.md §6.1: read the root counter, validate the metadata slot it
// names, and fall back to the previous slot if that validation fails.
func Open(path string, opts Options) (*Store, error) {
	if opts.HistoryDepth < 2 {
		return nil, fmt.Errorf("pagestore: history depth must be >= 2, got %d", opts.HistoryDepth)
	}

	mgr, err := OpenManager(path, opts.NumPages)
	if err != nil {
		return nil, err
	}

	return newStore(mgr, opts)
}

// OpenAnonymous creates a store backed by an anonymous (non-durable)
// mapping, for tests and DangerNoWrite-oriented bulk-write benchmarking.
func OpenAnonymous(opts Options) (*Store, error) {
	if opts.HistoryDepth < 2 {
		return nil, fmt.Errorf("pagestore: history depth must be >= 2, got %d", opts.HistoryDepth)
	}

	mgr, err := openManagerAnonymous(opts.NumPages)
	if err != nil {
		return nil, err
	}

	return newStore(mgr, opts)
}

func newStore(mgr *Manager, opts Options) (*Store, error) {
	s := &Store{
		mgr:          mgr,
		historyDepth: opts.HistoryDepth,
		snapshots:    make(map[uint64]int),
	}

	root, err := mgr.PageAt(RootPageAddr)
	if err != nil {
		return nil, err
	}

	counter := readRootCounter(root)

	meta, ok := s.validMetadataFor(counter)
	if !ok {
		if counter == 0 {
			return nil, fmt.Errorf("pagestore: %w: no valid metadata slot at counter 0", ErrCorrupt)
		}

		meta, ok = s.validMetadataFor(counter - 1)
		if !ok {
			return nil, fmt.Errorf("pagestore: %w: neither current nor fallback metadata validates", ErrCorrupt)
		}

		counter--
	}

	if meta.NextFreePage == 0 {
		// Brand new store: initialize metadata for slot 0 fresh.
		s.counter.Store(0)

		if err := s.initializeFresh(); err != nil {
			return nil, err
		}

		return s, nil
	}

	s.counter.Store(counter)

	return s, nil
}

// initializeFresh writes an empty metadata record into every history slot
// and allocates the first data root page, for a store opened with no prior
// contents (next_free_page == 0 everywhere).
func (s *Store) initializeFresh() error {
	rootDataAddr := uint32(s.historyDepth) + 1

	rootPage, err := s.mgr.PageAt(rootDataAddr)
	if err != nil {
		return err
	}

	WritePageHeader(rootPage, PageHeader{BatchID: 0, Level: 0})

	for idx := range s.historyDepth {
		metaAddr := uint32(idx) + 1

		buf, err := s.mgr.PageAt(metaAddr)
		if err != nil {
			return err
		}

		m := metadata{
			BatchID:      0,
			NextFreePage: rootDataAddr + 1,
			RootDataPage: rootDataAddr,
		}
		encodeMetadata(buf, m)
	}

	root, err := s.mgr.PageAt(RootPageAddr)
	if err != nil {
		return err
	}

	writeRootCounter(root, 0)

	return nil
}

// validMetadataFor validates the metadata slot named by counter (slot =
// counter mod H): the slot's own batch id must match counter's low 32 bits,
// and its root_data_page must be address-in-range with a matching page
// header batch id.
func (s *Store) validMetadataFor(counter uint64) (metadata, bool) {
	idx := uint32(counter % uint64(s.historyDepth))

	buf, err := s.mgr.PageAt(idx + 1)
	if err != nil {
		return metadata{}, false
	}

	m := decodeMetadata(buf)

	if m.NextFreePage == 0 && m.RootDataPage == 0 && counter != 0 {
		return metadata{}, false
	}

	if counter == 0 {
		return m, true
	}

	if uint64(m.BatchID) != counter%(1<<32) {
		return metadata{}, false
	}

	rootPage, err := s.mgr.PageAt(m.RootDataPage)
	if err != nil {
		return metadata{}, false
	}

	if ReadPageHeader(rootPage).BatchID != m.BatchID {
		return metadata{}, false
	}

	return m, true
}

// HistoryDepth returns the number of rotating metadata slots.
func (s *Store) HistoryDepth() uint16 { return s.historyDepth }

// Counter returns the store's current root counter.
func (s *Store) Counter() uint64 { return s.counter.Load() }

// Stats is a read-only diagnostic snapshot of the store, used by the bench
// CLI and tests (spec.md's Supplemental features: "Store-level Stats()").
type Stats struct {
	Counter         uint64
	HistoryDepth    uint16
	NumPages        uint32
	NextFreePage    uint32
	AbandonedPages  int
	OutstandingRefs int
}

// Stats reports the store's current counter, page budget, and abandoned
// page list length.
func (s *Store) Stats() Stats {
	meta := s.currentMetadata()

	s.snapshotsMu.Lock()
	outstanding := len(s.snapshots)
	s.snapshotsMu.Unlock()

	return Stats{
		Counter:         s.counter.Load(),
		HistoryDepth:    s.historyDepth,
		NumPages:        s.mgr.maxPage,
		NextFreePage:    meta.NextFreePage,
		AbandonedPages:  len(meta.Abandoned),
		OutstandingRefs: outstanding,
	}
}

func (s *Store) metaSlotAddr(counter uint64) uint32 {
	return uint32(counter%uint64(s.historyDepth)) + 1
}

func (s *Store) currentMetadata() metadata {
	buf, err := s.mgr.PageAt(s.metaSlotAddr(s.counter.Load()))
	if err != nil {
		panic(fmt.Sprintf("pagestore: current metadata slot out of range: %v", err))
	}

	return decodeMetadata(buf)
}

// HasState reports whether counter is a root the store can still serve a
// read-only batch for — either it is the current root, or a snapshot lease
// is outstanding for it.
func (s *Store) HasState(counter uint64) bool {
	if counter == s.counter.Load() {
		return true
	}

	s.snapshotsMu.Lock()
	defer s.snapshotsMu.Unlock()

	_, ok := s.snapshots[counter]

	return ok
}

// BeginNextBatch opens a new writer batch cloning the current metadata. The
// store permits at most one live writer batch at a time.
func (s *Store) BeginNextBatch() (*Batch, error) {
	if !s.writerActive.CompareAndSwap(false, true) {
		return nil, ErrWriterActive
	}

	s.mu.Lock()

	cur := s.counter.Load()
	next := cur + 1
	meta := s.currentMetadata()

	rootPage, err := s.mgr.PageAt(meta.RootDataPage)
	if err != nil {
		s.mu.Unlock()
		s.writerActive.Store(false)

		return nil, err
	}

	b := &Batch{
		store:       s,
		baseCounter: cur,
		nextCounter: next,
		meta:        meta,
	}

	newRootAddr, newRootBuf, err := b.allocatePage()
	if err != nil {
		s.mu.Unlock()
		s.writerActive.Store(false)

		return nil, err
	}

	copy(newRootBuf, rootPage)
	WritePageHeader(newRootBuf, PageHeader{BatchID: uint32(next % (1 << 32)), Level: 0})

	b.meta.RootDataPage = newRootAddr
	b.rootDataPageAddr = newRootAddr

	return b, nil
}

// BeginReadOnlyBatch leases the store's current root as a read-only
// snapshot. The returned batch must be released when no longer needed.
func (s *Store) BeginReadOnlyBatch() (*ReadOnlyBatch, error) {
	return s.beginReadOnlyBatch(s.counter.Load())
}

// BeginReadOnlyBatchOrLatest leases the root named by counter if it is still
// resolvable, or the store's latest root otherwise.
func (s *Store) BeginReadOnlyBatchOrLatest(counter uint64) (*ReadOnlyBatch, error) {
	if s.HasState(counter) {
		return s.beginReadOnlyBatch(counter)
	}

	return s.beginReadOnlyBatch(s.counter.Load())
}

// BeginReadOnlyBatchOrLatestByHash resolves hash to a still-reachable root
// counter by scanning the store's own rotating metadata slots for a
// matching recorded block hash (spec.md §6.5's
// "begin_read_only_batch_or_latest(state_hash, name?)"), falling back to
// the store's current root when hash cannot be resolved within the history
// window. The zero hash resolves to counter 0 (the pre-genesis root), whose
// block hash is never written by SetBlockInfo, only while counter 0 is
// still inside that window; after that it falls back like any other hash.
func (s *Store) BeginReadOnlyBatchOrLatestByHash(hash [32]byte) (*ReadOnlyBatch, error) {
	cur := s.counter.Load()

	low := int64(cur) - int64(s.historyDepth) + 1
	if low < 0 {
		low = 0
	}

	for c := int64(cur); c >= low; c-- {
		if c == 0 && hash == ([32]byte{}) {
			return s.beginReadOnlyBatch(0)
		}

		meta, ok := s.validMetadataFor(uint64(c))
		if !ok {
			continue
		}

		if meta.BlockHash == hash {
			return s.beginReadOnlyBatch(uint64(c))
		}
	}

	return s.beginReadOnlyBatch(cur)
}

func (s *Store) beginReadOnlyBatch(counter uint64) (*ReadOnlyBatch, error) {
	var meta metadata

	if counter == s.counter.Load() {
		meta = s.currentMetadata()
	} else {
		m, ok := s.validMetadataFor(counter)
		if !ok {
			return nil, ErrUnknownState
		}

		meta = m
	}

	s.snapshotsMu.Lock()
	s.snapshots[counter]++
	s.snapshotsMu.Unlock()

	rb := &ReadOnlyBatch{store: s, counter: counter, rootDataPage: meta.RootDataPage}
	rb.disposable = refcount.New(rb, func(*ReadOnlyBatch) {
		s.snapshotsMu.Lock()
		s.snapshots[counter]--

		if s.snapshots[counter] <= 0 {
			delete(s.snapshots, counter)
		}

		s.snapshotsMu.Unlock()
	})

	return rb, nil
}

// Flush is an alias for the store's periodic bulk durability pass: it
// flushes data pages only (used after a run of DangerNoFlush commits).
func (s *Store) Flush() error {
	return s.mgr.FlushData()
}

// ForceFlush flushes both data and the root-counter page.
func (s *Store) ForceFlush() error {
	if err := s.mgr.FlushData(); err != nil {
		return err
	}

	return s.mgr.FlushRoot()
}

// Close releases the underlying page manager. The store must have no active
// writer batch.
func (s *Store) Close() error {
	return s.mgr.Close()
}

// GetAt returns a view of the page at addr, validated against the store's
// addressable range.
func (s *Store) GetAt(addr uint32) ([]byte, error) {
	return s.mgr.PageAt(addr)
}
