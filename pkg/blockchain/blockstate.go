// Package blockchain implements the block-chained overlay of spec.md §4.7:
// an in-memory DAG of uncommitted blocks, each a pooled span dictionary of
// pending writes, leased ancestors, a per-block bloom/XOR filter, and a
// single-reader flusher applying finalized blocks to the paged store.
package blockchain

import (
	"fmt"
	"sync"

	"github.com/paprikadb/paprika/pkg/accountvalue"
	"github.com/paprikadb/paprika/pkg/filter"
	"github.com/paprikadb/paprika/pkg/nibblepath"
	"github.com/paprikadb/paprika/pkg/pagestore"
	"github.com/paprikadb/paprika/pkg/refcount"
	"github.com/paprikadb/paprika/pkg/spandict"
	"github.com/paprikadb/paprika/pkg/triepage"
)

type blockStatus uint8

const (
	statusUncommitted blockStatus = iota
	statusCommitted
)

// BlockState is one node of the block DAG: a block's pending writes, its
// leased ancestor chain, and (once committed) its immutable filter and
// DAG-index membership.
type BlockState struct {
	chain *Blockchain

	parentHash [32]byte
	hash       [32]byte
	number     uint32
	readOnly   bool

	mu sync.Mutex

	state     *spandict.Dict
	storage   *spandict.Dict
	preCommit *spandict.Dict
	destroyed map[[32]byte]struct{}

	bloom      *filter.MutableBloom
	xorFilter  *filter.XOR8Filter
	seenHashes []uint64

	ancestors []*BlockState
	roBatch   *pagestore.ReadOnlyBatch

	cacheBudget *CacheBudget

	status     blockStatus
	disposable *refcount.Disposable[*BlockState]
}

// Hash returns the block's hash, the zero value before Commit.
func (bs *BlockState) Hash() [32]byte { return bs.hash }

// Number returns the block's committed number, meaningless before Commit.
func (bs *BlockState) Number() uint32 { return bs.number }

// ParentHash returns the hash this block was started on top of.
func (bs *BlockState) ParentHash() [32]byte { return bs.parentHash }

func accountPath(accountHash [32]byte) nibblepath.Path {
	h := accountHash

	return nibblepath.New(h[:])
}

func (bs *BlockState) dictFor(kind triepage.Kind) *spandict.Dict {
	if kind == triepage.KindStorageCell {
		return bs.storage
	}

	return bs.state
}

func (bs *BlockState) isDestroyed(accountHash [32]byte) bool {
	_, ok := bs.destroyed[accountHash]

	return ok
}

func (bs *BlockState) mayContain(hash uint64) bool {
	if bs.xorFilter != nil {
		return bs.xorFilter.Contains(hash)
	}

	if bs.bloom != nil {
		return bs.bloom.MayContain(hash)
	}

	return true
}

func (bs *BlockState) recordHash(hash uint64) {
	bs.seenHashes = append(bs.seenHashes, hash)
}

// tryGetLocal runs the try_get_local ladder of spec.md §4.7: this block,
// then its leased ancestors youngest-first, then the leased read-only
// store batch. depth reports how many generations deep the value was
// found (0 = this block itself), for the cache budget.
func (bs *BlockState) tryGetLocal(accountHash [32]byte, key triepage.Key) ([]byte, bool, int, error) {
	keyBytes := key.Encode()
	hash := filter.HashBytes(keyBytes)

	blocks := make([]*BlockState, 0, 1+len(bs.ancestors))
	blocks = append(blocks, bs)
	blocks = append(blocks, bs.ancestors...)

	for depth, b := range blocks {
		if b.isDestroyed(accountHash) {
			return nil, false, depth, nil
		}

		if !b.mayContain(hash) {
			continue
		}

		if rec, ok := b.preCommit.TryGet(keyBytes, hash); ok {
			if rec.Destroyed {
				return nil, false, depth, nil
			}

			return rec.Value, true, depth, nil
		}

		if rec, ok := b.dictFor(key.Kind).TryGet(keyBytes, hash); ok {
			if rec.Destroyed {
				return nil, false, depth, nil
			}

			return rec.Value, true, depth, nil
		}
	}

	if bs.roBatch != nil {
		path, err := key.TriePath()
		if err != nil {
			return nil, false, 0, err
		}

		value, ok, err := triepage.TryGet(bs.roBatch, bs.roBatch.RootAddr(), path)
		if err != nil {
			return nil, false, 0, err
		}

		return value, ok, len(blocks), nil
	}

	return nil, false, 0, nil
}

// cacheReadThrough writes a value resolved from an ancestor or the store
// back into this block's own dictionary, tagged per spec.md §4.8's cache
// budget, so a later read of the same key hits locally.
func (bs *BlockState) cacheReadThrough(depth int, key triepage.Key, value []byte) {
	meta, ok := bs.cacheBudget.ClassifyAt(depth)
	if !ok {
		return
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	keyBytes := key.Encode()
	hash := filter.HashBytes(keyBytes)

	if err := bs.dictFor(key.Kind).Set(keyBytes, hash, value, meta); err != nil {
		return
	}

	bs.bloom.Add(hash)
	bs.recordHash(hash)
}

// GetAccount resolves an account's (balance, nonce) through the
// try_get_local ladder.
func (bs *BlockState) GetAccount(accountHash [32]byte) (balance, nonce [32]byte, found bool, err error) {
	key := triepage.Key{Kind: triepage.KindAccount, Path: accountPath(accountHash)}

	value, ok, depth, err := bs.tryGetLocal(accountHash, key)
	if err != nil || !ok {
		return balance, nonce, false, err
	}

	bs.cacheReadThrough(depth, key, value)

	balance, nonce, err = bs.chain.codec.Decode(value)
	if err != nil {
		return balance, nonce, false, fmt.Errorf("blockchain: decode account: %w", err)
	}

	return balance, nonce, true, nil
}

// SetAccount writes an account's (balance, nonce) into this block.
func (bs *BlockState) SetAccount(accountHash [32]byte, balance, nonce [32]byte) error {
	if bs.readOnly {
		return ErrBlockchainClosed
	}

	value, err := bs.chain.codec.Encode(balance, nonce)
	if err != nil {
		return fmt.Errorf("blockchain: encode account: %w", err)
	}

	key := triepage.Key{Kind: triepage.KindAccount, Path: accountPath(accountHash)}

	return bs.setLocal(key, value)
}

// GetStorage resolves a single 32-byte storage cell through the
// try_get_local ladder.
func (bs *BlockState) GetStorage(accountHash, storageKeyHash [32]byte) (value [32]byte, found bool, err error) {
	skh := storageKeyHash
	key := triepage.Key{Kind: triepage.KindStorageCell, Path: accountPath(accountHash), StoragePath: nibblepath.New(skh[:])}

	raw, ok, depth, err := bs.tryGetLocal(accountHash, key)
	if err != nil || !ok {
		return value, false, err
	}

	bs.cacheReadThrough(depth, key, raw)
	copy(value[32-len(raw):], raw)

	return value, true, nil
}

// SetStorage writes a single 32-byte storage cell into this block.
func (bs *BlockState) SetStorage(accountHash, storageKeyHash, value [32]byte) error {
	if bs.readOnly {
		return ErrBlockchainClosed
	}

	skh := storageKeyHash
	key := triepage.Key{Kind: triepage.KindStorageCell, Path: accountPath(accountHash), StoragePath: nibblepath.New(skh[:])}

	return bs.setLocal(key, value[:])
}

func (bs *BlockState) setLocal(key triepage.Key, value []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	keyBytes := key.Encode()
	hash := filter.HashBytes(keyBytes)

	if err := bs.dictFor(key.Kind).Set(keyBytes, hash, value, spandict.MetaNormal); err != nil {
		return err
	}

	bs.bloom.Add(hash)
	bs.recordHash(hash)

	return nil
}

// DestroyAccount marks accountHash as destroyed within this block: every
// read of its account or storage through this block (and its descendants,
// once they lease it as an ancestor) returns not-found regardless of
// ancestor or store content (spec.md §8 property 7). Pending _pre_commit
// entries for the same account are iterated and destroyed too (resolved
// per DESIGN.md's "destroy_account interacts with pending _pre_commit
// entries" open question).
func (bs *BlockState) DestroyAccount(accountHash [32]byte) error {
	if bs.readOnly {
		return ErrBlockchainClosed
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	bs.destroyed[accountHash] = struct{}{}

	prefix := accountPath(accountHash)

	bs.preCommit.Enumerate(func(key []byte, _ spandict.Record) bool {
		k, _, err := triepage.DecodeKey(key)
		if err != nil {
			return true
		}

		if !k.Path.HasPrefix(prefix) {
			return true
		}

		bs.preCommit.Destroy(key, filter.HashBytes(key))

		return true
	})

	return nil
}

// Commit invokes the pre-commit hook, freezes the block's mutable bloom
// into an immutable XOR filter, releases its leased ancestors and
// read-only batch, and publishes it into the chain's DAG indices
// (spec.md §4.7).
func (bs *BlockState) Commit(blockNumber uint32) ([32]byte, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.status != statusUncommitted {
		return [32]byte{}, ErrDoubleCommit
	}

	view := &blockView{bs: bs}

	hash, err := bs.chain.hook.Commit(view)
	if err != nil {
		return [32]byte{}, err
	}

	xf, err := filter.BuildXOR8(bs.seenHashes)
	if err != nil {
		return [32]byte{}, err
	}

	for _, a := range bs.ancestors {
		a.disposable.Release()
	}

	bs.ancestors = nil

	if bs.roBatch != nil {
		bs.roBatch.Release()
		bs.roBatch = nil
	}

	bs.xorFilter = xf
	bs.bloom = nil
	bs.hash = hash
	bs.number = blockNumber
	bs.status = statusCommitted
	bs.disposable = refcount.New(bs, func(committed *BlockState) {
		committed.disposeLocal()
	})

	bs.chain.registerCommitted(bs)

	return hash, nil
}

// Close abandons this still-uncommitted block for good: its leased
// ancestors and read-only store batch are released and its pooled
// dictionaries returned, without ever registering it in the chain's DAG.
// Used to discard a read-only snapshot, or a writer block the caller
// decided not to commit.
func (bs *BlockState) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.status != statusUncommitted {
		return ErrDoubleCommit
	}

	bs.status = statusCommitted
	bs.disposeLocal()

	for _, a := range bs.ancestors {
		a.disposable.Release()
	}

	bs.ancestors = nil

	if bs.roBatch != nil {
		bs.roBatch.Release()
		bs.roBatch = nil
	}

	return nil
}

// Reset discards every pending write made to this still-uncommitted block,
// restoring it to the state StartNew first returned.
func (bs *BlockState) Reset() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.status != statusUncommitted {
		return ErrDoubleCommit
	}

	bs.disposeLocal()

	state, err := spandict.New(bs.chain.pool, bs.chain.preserveOldValues)
	if err != nil {
		return err
	}

	storage, err := spandict.New(bs.chain.pool, bs.chain.preserveOldValues)
	if err != nil {
		return err
	}

	preCommit, err := spandict.New(bs.chain.pool, bs.chain.preserveOldValues)
	if err != nil {
		return err
	}

	bloom, err := filter.NewMutableBloom(bs.chain.maxElementsPerBlock)
	if err != nil {
		return err
	}

	bs.state, bs.storage, bs.preCommit = state, storage, preCommit
	bs.destroyed = make(map[[32]byte]struct{})
	bs.seenHashes = nil
	bs.bloom = bloom
	bs.cacheBudget.Reset()

	return nil
}

// disposeLocal returns this block's three dictionaries' pages to the
// shared pool. Called once a block is either Reset or has dropped its last
// lease after being flushed.
func (bs *BlockState) disposeLocal() {
	if bs.state != nil {
		bs.state.Dispose()
	}

	if bs.storage != nil {
		bs.storage.Dispose()
	}

	if bs.preCommit != nil {
		bs.preCommit.Dispose()
	}
}
