package blockchain

import (
	"runtime"
	"sync"

	"github.com/paprikadb/paprika/pkg/accountvalue"
	"github.com/paprikadb/paprika/pkg/bufpool"
	"github.com/paprikadb/paprika/pkg/filter"
	"github.com/paprikadb/paprika/pkg/pagestore"
	"github.com/paprikadb/paprika/pkg/precommit"
	"github.com/paprikadb/paprika/pkg/spandict"
)

// GenesisHash is the sentinel parent hash naming the store's state before
// any block has ever been committed.
var GenesisHash = [32]byte{}

// flushedInfo records, for every hash the flusher has applied and
// permanently retired from the in-memory DAG, the store counter and block
// number it now lives at.
type flushedInfo struct {
	Counter uint64
	Number  uint32
}

// Config configures a Blockchain.
type Config struct {
	// Codec encodes/decodes account (balance, nonce) pairs.
	Codec accountvalue.Codec

	// Hook computes the block hash at commit time.
	Hook precommit.Hook

	// Pool backs every block's three pooled span dictionaries.
	Pool *bufpool.Pool

	// PreserveOldValues is forwarded to spandict.New for every block.
	PreserveOldValues bool

	// MaxElementsPerBlock sizes each block's mutable bloom filter.
	MaxElementsPerBlock uint64

	// EntriesPerBlock and CacheFromDepth configure the read-through cache
	// budget (spec.md §4.8).
	EntriesPerBlock int64
	CacheFromDepth  int

	// FinalizationQueueLimit is the finalization channel's capacity; 0 (or
	// less) selects a capacity of 1024. Finalize spin-waits while the
	// channel is full; there is no unbounded mode.
	FinalizationQueueLimit int

	// MinFlushDelayMillis is the flusher's cooperative batching window.
	MinFlushDelayMillis int
}

// Blockchain is the block DAG overlay of spec.md §4.7: blocksByHash and
// blocksByNumber indices serialized by one lock, a finalization channel,
// and a single-reader flusher task applying finalized blocks to store.
type Blockchain struct {
	store *pagestore.Store
	cfg   Config

	codec accountvalue.Codec
	hook  precommit.Hook
	pool  *bufpool.Pool

	preserveOldValues   bool
	maxElementsPerBlock uint64

	mu             sync.Mutex
	blocksByHash   map[[32]byte]*BlockState
	blocksByNumber map[uint32][]*BlockState
	flushedInfo    map[[32]byte]flushedInfo

	lastFinalizedHash   [32]byte
	lastFinalizedNumber uint32
	haveFinalized       bool

	finalizeCh chan *BlockState
	flushedCh  chan uint32

	closed    bool
	flusherWG sync.WaitGroup
	flushErr  error
}

// New opens a Blockchain overlay on top of an already-open pagestore.Store
// and starts its background flusher.
func New(store *pagestore.Store, cfg Config) *Blockchain {
	if cfg.Codec == nil {
		cfg.Codec = accountvalue.DenseCodec{}
	}

	if cfg.Hook == nil {
		cfg.Hook = precommit.IdentityHook{}
	}

	if cfg.MaxElementsPerBlock == 0 {
		cfg.MaxElementsPerBlock = 4096
	}

	queueSize := cfg.FinalizationQueueLimit
	if queueSize <= 0 {
		queueSize = 1024
	}

	c := &Blockchain{
		store:               store,
		cfg:                 cfg,
		codec:               cfg.Codec,
		hook:                cfg.Hook,
		pool:                cfg.Pool,
		preserveOldValues:   cfg.PreserveOldValues,
		maxElementsPerBlock: cfg.MaxElementsPerBlock,
		blocksByHash:        make(map[[32]byte]*BlockState),
		blocksByNumber:      make(map[uint32][]*BlockState),
		flushedInfo:         map[[32]byte]flushedInfo{GenesisHash: {Counter: 0, Number: 0}},
		finalizeCh:          make(chan *BlockState, queueSize),
		flushedCh:           make(chan uint32, 1),
	}

	c.flusherWG.Add(1)

	go c.runFlusher()

	return c
}

// HasState reports whether hash names a resolvable state: either a block
// still live in the DAG overlay, or one already flushed to the store.
func (c *Blockchain) HasState(hash [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.blocksByHash[hash]; ok {
		return true
	}

	_, ok := c.flushedInfo[hash]

	return ok
}

// Flushed returns the channel on which the last flushed block number is
// published after every flusher pass (spec.md §6.5's "Blockchain.flushed
// event"). The channel is closed once the flusher terminates.
func (c *Blockchain) Flushed() <-chan uint32 { return c.flushedCh }

// StartNew opens a new uncommitted BlockState on top of parentHash,
// leasing every still-in-memory ancestor and a read-only store batch
// pinned to the oldest resolvable ancestor (spec.md §4.7).
func (c *Blockchain) StartNew(parentHash [32]byte) (*BlockState, error) {
	return c.startBlock(parentHash, false)
}

// StartReadOnly is StartNew but the returned BlockState rejects writes;
// used for read-only snapshots (spec.md §6.5's ReadOnlyWorldState).
func (c *Blockchain) StartReadOnly(parentHash [32]byte) (*BlockState, error) {
	return c.startBlock(parentHash, true)
}

func (c *Blockchain) startBlock(parentHash [32]byte, readOnly bool) (*BlockState, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, ErrBlockchainClosed
	}

	var ancestors []*BlockState

	target := parentHash

	for {
		anc, ok := c.blocksByHash[target]
		if !ok {
			break
		}

		if !anc.disposable.AcquireLease() {
			for _, a := range ancestors {
				a.disposable.Release()
			}

			c.mu.Unlock()

			return nil, ErrMissingParent
		}

		ancestors = append(ancestors, anc)
		target = anc.parentHash
	}

	info, ok := c.flushedInfo[target]
	if !ok {
		for _, a := range ancestors {
			a.disposable.Release()
		}

		c.mu.Unlock()

		return nil, ErrMissingParent
	}

	c.mu.Unlock()

	roBatch, err := c.store.BeginReadOnlyBatchOrLatest(info.Counter)
	if err != nil {
		for _, a := range ancestors {
			a.disposable.Release()
		}

		return nil, err
	}

	number := info.Number + 1
	if len(ancestors) > 0 {
		number = ancestors[0].number + 1
	}

	bloom, err := filter.NewMutableBloom(c.maxElementsPerBlock)
	if err != nil {
		roBatch.Release()

		for _, a := range ancestors {
			a.disposable.Release()
		}

		return nil, err
	}

	bs := &BlockState{
		chain:       c,
		parentHash:  parentHash,
		number:      number,
		readOnly:    readOnly,
		destroyed:   make(map[[32]byte]struct{}),
		bloom:       bloom,
		ancestors:   ancestors,
		roBatch:     roBatch,
		cacheBudget: NewCacheBudget(c.cfg.EntriesPerBlock, c.cfg.CacheFromDepth),
		status:      statusUncommitted,
	}

	abort := func(err error) (*BlockState, error) {
		bs.disposeLocal()
		roBatch.Release()

		for _, a := range ancestors {
			a.disposable.Release()
		}

		return nil, err
	}

	if bs.state, err = spandict.New(c.pool, c.preserveOldValues); err != nil {
		return abort(err)
	}

	if bs.storage, err = spandict.New(c.pool, c.preserveOldValues); err != nil {
		return abort(err)
	}

	if bs.preCommit, err = spandict.New(c.pool, c.preserveOldValues); err != nil {
		return abort(err)
	}

	return bs, nil
}

func (c *Blockchain) registerCommitted(bs *BlockState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocksByHash[bs.hash] = bs
	c.blocksByNumber[bs.number] = append(c.blocksByNumber[bs.number], bs)
}

// Finalize walks from hash back through parents up to the last finalized
// block, then drains that chain (oldest first) into the flusher's
// finalization channel (spec.md §4.7). Finalizing the same block twice is
// a no-op; finalizing any other block whose number is not ahead of the
// chain's last finalized number (including one already flushed) is
// rejected with ErrStaleFinalize.
func (c *Blockchain) Finalize(hash [32]byte) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return ErrBlockchainClosed
	}

	if c.haveFinalized && hash == c.lastFinalizedHash {
		c.mu.Unlock()
		return nil
	}

	block, ok := c.blocksByHash[hash]
	if !ok {
		info, flushed := c.flushedInfo[hash]
		stale := flushed && c.haveFinalized && info.Number <= c.lastFinalizedNumber
		c.mu.Unlock()

		if stale {
			return ErrStaleFinalize
		}

		return ErrMissingBlock
	}

	if c.haveFinalized && block.number <= c.lastFinalizedNumber {
		c.mu.Unlock()
		return ErrStaleFinalize
	}

	var stack []*BlockState

	cur := block
	for {
		stack = append(stack, cur)

		if c.haveFinalized && cur.hash == c.lastFinalizedHash {
			break
		}

		parent, ok := c.blocksByHash[cur.parentHash]
		if !ok {
			break
		}

		cur = parent
	}

	c.lastFinalizedHash = block.hash
	c.lastFinalizedNumber = block.number
	c.haveFinalized = true

	c.mu.Unlock()

	for i := len(stack) - 1; i >= 0; i-- {
		c.pushFinalized(stack[i])
	}

	return nil
}

// pushFinalized enqueues b onto the finalization channel, hard-spinning
// when it is full (spec.md §5: "intentional back-pressure into block
// production").
func (c *Blockchain) pushFinalized(b *BlockState) {
	for {
		select {
		case c.finalizeCh <- b:
			return
		default:
			runtime.Gosched()
		}
	}
}

// Dispose signals the flusher channel complete, awaits its termination,
// and disposes every block still held in the hash index.
func (c *Blockchain) Dispose() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.mu.Unlock()

	close(c.finalizeCh)
	c.flusherWG.Wait()

	c.mu.Lock()
	for _, b := range c.blocksByHash {
		b.disposeLocal()
	}

	c.blocksByHash = make(map[[32]byte]*BlockState)
	c.blocksByNumber = make(map[uint32][]*BlockState)
	c.mu.Unlock()

	return c.flushErr
}

