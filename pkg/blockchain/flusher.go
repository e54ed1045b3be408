package blockchain

import (
	"time"

	"github.com/paprikadb/paprika/internal/paprikalog"
	"github.com/paprikadb/paprika/pkg/pagestore"
	"github.com/paprikadb/paprika/pkg/spandict"
	"github.com/paprikadb/paprika/pkg/triepage"
)

// runFlusher is the single reader of finalizeCh (spec.md §4.7): it applies
// every finalized block to the page store in order, batching up to
// min_flush_delay's worth of arrivals into one store-level flush. A flusher
// error is terminal: it is recorded on c.flushErr and surfaced by Dispose,
// and the flushed-event channel is closed either way.
func (c *Blockchain) runFlusher() {
	defer close(c.flushedCh)
	defer c.flusherWG.Done()

	minDelay := time.Duration(c.cfg.MinFlushDelayMillis) * time.Millisecond

	for {
		b, ok := <-c.finalizeCh
		if !ok {
			return
		}

		pending := []*BlockState{b}

		if minDelay > 0 {
			timer := time.NewTimer(minDelay)

		drain:
			for {
				select {
				case next, ok := <-c.finalizeCh:
					if !ok {
						timer.Stop()

						if err := c.flushPending(pending); err != nil {
							c.flushErr = err
							paprikalog.WithComponent("blockchain").Error().Err(err).Msg("flusher terminated: finalization channel closed mid-flush")
						}

						return
					}

					pending = append(pending, next)
				case <-timer.C:
					break drain
				}
			}
		}

		if err := c.flushPending(pending); err != nil {
			c.flushErr = err
			paprikalog.WithComponent("blockchain").Error().Err(err).Msg("flusher terminated")

			return
		}
	}
}

// flushPending applies every block in pending (already oldest-first),
// performs one bulk data flush, and publishes the newest applied block
// number on flushedCh, replacing any value a slow reader hasn't drained yet.
func (c *Blockchain) flushPending(pending []*BlockState) error {
	var last uint32

	for _, b := range pending {
		if err := c.applyBlock(b); err != nil {
			return err
		}

		last = b.number
	}

	if err := c.store.Flush(); err != nil {
		return err
	}

	select {
	case <-c.flushedCh:
	default:
	}

	c.flushedCh <- last

	return nil
}

// applyBlock writes one finalized block's pending writes into a fresh
// writer batch and commits it without flushing (spec.md §4.7's "apply
// _state, _storage, _pre_commit ... apply destroy for each destroyed
// account, commit batch with DangerNoFlush"), then retires the block from
// the DAG overlay.
func (c *Blockchain) applyBlock(b *BlockState) error {
	wb, err := c.store.BeginNextBatch()
	if err != nil {
		return err
	}

	wb.SetBlockInfo(b.number, b.hash)

	root := wb.RootAddr()

	for _, d := range []*spandict.Dict{b.state, b.storage, b.preCommit} {
		root, err = applyDict(wb, root, d)
		if err != nil {
			wb.Abort()

			return err
		}
	}

	for accountHash := range b.destroyed {
		root, err = triepage.DeleteSubtree(wb, root, accountPath(accountHash))
		if err != nil {
			wb.Abort()

			return err
		}
	}

	if err := wb.Commit(pagestore.DangerNoFlush); err != nil {
		return err
	}

	c.retire(b)

	return nil
}

// applyDict replays every live entry of d as a trie Set and every destroyed
// entry as a trie Delete, threading the (possibly COW-relocated) root
// address through the sequence.
func applyDict(wb *pagestore.Batch, root uint32, d *spandict.Dict) (uint32, error) {
	var applyErr error

	d.Enumerate(func(key []byte, rec spandict.Record) bool {
		k, _, err := triepage.DecodeKey(key)
		if err != nil {
			applyErr = err

			return false
		}

		path, err := k.TriePath()
		if err != nil {
			applyErr = err

			return false
		}

		if rec.Destroyed {
			newRoot, _, err := triepage.Delete(wb, root, path)
			if err != nil {
				applyErr = err

				return false
			}

			root = newRoot

			return true
		}

		newRoot, err := triepage.Set(wb, root, path, rec.Value)
		if err != nil {
			applyErr = err

			return false
		}

		root = newRoot

		return true
	})

	return root, applyErr
}

// retire removes b from the in-memory DAG indices, records where its state
// now lives in the store, and drops the registry's own lease on b (held
// since Commit first registered it). A descendant still leasing b as an
// ancestor keeps it alive in memory until that lease is released too.
func (c *Blockchain) retire(b *BlockState) {
	c.mu.Lock()

	delete(c.blocksByHash, b.hash)

	siblings := c.blocksByNumber[b.number]
	for i, x := range siblings {
		if x == b {
			c.blocksByNumber[b.number] = append(siblings[:i], siblings[i+1:]...)

			break
		}
	}

	if len(c.blocksByNumber[b.number]) == 0 {
		delete(c.blocksByNumber, b.number)
	}

	c.flushedInfo[b.hash] = flushedInfo{Counter: c.store.Counter(), Number: b.number}

	c.mu.Unlock()

	b.disposable.Release()
}
