// Package paprikadb implements the public, engine-level API surface of
// spec.md §6.5: Open/Store/Blockchain/WorldState/ReadOnlyWorldState, thinly
// wrapping pkg/pagestore and pkg/blockchain so a caller never has to touch
// either package directly.
package paprikadb

import (
	"fmt"

	"github.com/paprikadb/paprika/pkg/accountvalue"
	"github.com/paprikadb/paprika/pkg/blockchain"
	"github.com/paprikadb/paprika/pkg/bufpool"
	"github.com/paprikadb/paprika/pkg/pagestore"
	"github.com/paprikadb/paprika/pkg/precommit"
)

// GenesisHash is the sentinel parent hash naming the store's state before
// any block has ever been committed.
var GenesisHash = blockchain.GenesisHash

// Options configures Open.
type Options struct {
	// Path is the backing file. Empty opens an anonymous, non-durable
	// store, for tests and benchmarks.
	Path string

	// HistoryDepth is the number of rotating metadata slots (H >= 2).
	HistoryDepth uint16

	// NumPages is the total number of 4 KiB pages in the region.
	NumPages uint32

	// PoolCapacity bounds the number of pages pkg/bufpool will ever rent
	// out concurrently across every open block's three dictionaries.
	// Defaults to 1024 pages.
	PoolCapacity int

	// Codec encodes/decodes account (balance, nonce) pairs. Defaults to
	// accountvalue.DenseCodec{}.
	Codec accountvalue.Codec

	// Hook computes the block hash at commit time. Defaults to
	// precommit.IdentityHook{}.
	Hook precommit.Hook

	// PreserveOldValues is forwarded to every block's pooled span
	// dictionaries.
	PreserveOldValues bool

	// MaxElementsPerBlock sizes each block's mutable bloom filter.
	// Defaults to 4096.
	MaxElementsPerBlock uint64

	// CacheEntriesPerBlock and CacheFromDepth configure the read-through
	// cache budget (spec.md §4.8).
	CacheEntriesPerBlock int64
	CacheFromDepth       int

	// FinalizationQueueLimit bounds the finalization channel.
	FinalizationQueueLimit int

	// MinFlushDelayMillis is the flusher's cooperative batching window.
	MinFlushDelayMillis int
}

// DB is an opened Paprika store plus its blockchain overlay.
type DB struct {
	store *pagestore.Store
	chain *blockchain.Blockchain
}

// Open opens (or creates) a store at options.Path, or an anonymous
// in-memory store if Path is empty, and starts its blockchain overlay.
func Open(options Options) (*DB, error) {
	if options.HistoryDepth == 0 {
		options.HistoryDepth = 2
	}

	if options.NumPages == 0 {
		options.NumPages = 1 << 16
	}

	storeOpts := pagestore.Options{HistoryDepth: options.HistoryDepth, NumPages: options.NumPages}

	var (
		store *pagestore.Store
		err   error
	)

	if options.Path == "" {
		store, err = pagestore.OpenAnonymous(storeOpts)
	} else {
		store, err = pagestore.Open(options.Path, storeOpts)
	}

	if err != nil {
		return nil, fmt.Errorf("paprikadb: open store: %w", err)
	}

	poolCapacity := options.PoolCapacity
	if poolCapacity == 0 {
		// Every open block rents 3 dictionaries x 16 root pages up front, so
		// bufpool's own 64-page default cannot hold two blocks at once.
		poolCapacity = 1024
	}

	pool := bufpool.New(bufpool.Options{Capacity: poolCapacity})

	chain := blockchain.New(store, blockchain.Config{
		Codec:                  options.Codec,
		Hook:                   options.Hook,
		Pool:                   pool,
		PreserveOldValues:      options.PreserveOldValues,
		MaxElementsPerBlock:    options.MaxElementsPerBlock,
		EntriesPerBlock:        options.CacheEntriesPerBlock,
		CacheFromDepth:         options.CacheFromDepth,
		FinalizationQueueLimit: options.FinalizationQueueLimit,
		MinFlushDelayMillis:    options.MinFlushDelayMillis,
	})

	return &DB{store: store, chain: chain}, nil
}

// BeginNextBatch opens a new writer batch directly against the page store,
// bypassing the blockchain overlay. At most one is live at a time.
func (db *DB) BeginNextBatch() (*pagestore.Batch, error) {
	return db.store.BeginNextBatch()
}

// BeginReadOnlyBatch leases the store's current root as a read-only
// snapshot.
func (db *DB) BeginReadOnlyBatch() (*pagestore.ReadOnlyBatch, error) {
	return db.store.BeginReadOnlyBatch()
}

// BeginReadOnlyBatchOrLatest leases the snapshot recorded under hash if it
// is still resolvable within the store's history window, or the store's
// current root otherwise.
func (db *DB) BeginReadOnlyBatchOrLatest(hash [32]byte) (*pagestore.ReadOnlyBatch, error) {
	return db.store.BeginReadOnlyBatchOrLatestByHash(hash)
}

// HistoryDepth returns the number of rotating metadata slots.
func (db *DB) HistoryDepth() uint16 { return db.store.HistoryDepth() }

// Flush performs a bulk data-only flush.
func (db *DB) Flush() error { return db.store.Flush() }

// ForceFlush flushes both data and the root-counter page.
func (db *DB) ForceFlush() error { return db.store.ForceFlush() }

// HasState reports whether hash names a state the blockchain overlay can
// still resolve, either a live in-memory block or one already flushed.
func (db *DB) HasState(hash [32]byte) bool { return db.chain.HasState(hash) }

// Flushed returns the channel on which the last flushed block number is
// published after every flusher pass. Closed once Close returns.
func (db *DB) Flushed() <-chan uint32 { return db.chain.Flushed() }

// StartNew opens a new writable WorldState on top of parentHash.
func (db *DB) StartNew(parentHash [32]byte) (*WorldState, error) {
	bs, err := db.chain.StartNew(parentHash)
	if err != nil {
		return nil, err
	}

	return &WorldState{bs: bs}, nil
}

// StartReadOnly opens a read-only snapshot on top of parentHash. Call
// Close once done with it to release its leased resources.
func (db *DB) StartReadOnly(parentHash [32]byte) (*ReadOnlyWorldState, error) {
	bs, err := db.chain.StartReadOnly(parentHash)
	if err != nil {
		return nil, err
	}

	return &ReadOnlyWorldState{bs: bs}, nil
}

// Finalize walks hash's ancestor chain back to the last finalized block and
// hands that chain to the background flusher, oldest first.
func (db *DB) Finalize(hash [32]byte) error { return db.chain.Finalize(hash) }

// Close disposes the blockchain overlay (awaiting the flusher, surfacing
// any terminal flush error) and closes the underlying page store.
func (db *DB) Close() error {
	chainErr := db.chain.Dispose()

	if err := db.store.Close(); err != nil {
		if chainErr != nil {
			return fmt.Errorf("paprikadb: close: %w (also: %s)", err, chainErr)
		}

		return fmt.Errorf("paprikadb: close: %w", err)
	}

	return chainErr
}
