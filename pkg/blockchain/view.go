package blockchain

import (
	"bytes"

	"github.com/paprikadb/paprika/pkg/filter"
	"github.com/paprikadb/paprika/pkg/precommit"
	"github.com/paprikadb/paprika/pkg/spandict"
)

// blockView implements precommit.View over one block's three dictionaries,
// the commit-time surface spec.md §9 describes ("get, set, visit,
// get_child"). Set writes land in the block's _pre_commit dictionary,
// matching the spec's own terminology for the hook's derived entries.
type blockView struct {
	bs *BlockState
}

var _ precommit.View = (*blockView)(nil)

func (v *blockView) Get(key []byte) ([]byte, bool) {
	hash := filter.HashBytes(key)

	if rec, ok := v.bs.preCommit.TryGet(key, hash); ok {
		if rec.Destroyed {
			return nil, false
		}

		return rec.Value, true
	}

	if rec, ok := v.bs.state.TryGet(key, hash); ok && !rec.Destroyed {
		return rec.Value, true
	}

	if rec, ok := v.bs.storage.TryGet(key, hash); ok && !rec.Destroyed {
		return rec.Value, true
	}

	return nil, false
}

func (v *blockView) Set(key []byte, value []byte) {
	hash := filter.HashBytes(key)
	_ = v.bs.preCommit.Set(key, hash, value, spandict.MetaNormal)
	v.bs.recordHash(hash)
}

func (v *blockView) Visit(fn func(key, value []byte) bool) {
	visitLive := func(d *spandict.Dict) bool {
		keepGoing := true

		d.Enumerate(func(key []byte, rec spandict.Record) bool {
			if rec.Destroyed {
				return true
			}

			if !fn(key, rec.Value) {
				keepGoing = false

				return false
			}

			return true
		})

		return keepGoing
	}

	if !visitLive(v.bs.state) {
		return
	}

	if !visitLive(v.bs.storage) {
		return
	}

	visitLive(v.bs.preCommit)
}

func (v *blockView) GetChild(prefix []byte) precommit.View {
	return &childView{parent: v, prefix: append([]byte(nil), prefix...)}
}

// childView scopes a blockView to keys sharing a byte prefix, for a Hook
// recursing into e.g. a single account's storage sub-trie.
type childView struct {
	parent precommit.View
	prefix []byte
}

var _ precommit.View = (*childView)(nil)

func (c *childView) Get(key []byte) ([]byte, bool) {
	return c.parent.Get(append(append([]byte(nil), c.prefix...), key...))
}

func (c *childView) Set(key []byte, value []byte) {
	c.parent.Set(append(append([]byte(nil), c.prefix...), key...), value)
}

func (c *childView) Visit(fn func(key, value []byte) bool) {
	c.parent.Visit(func(key, value []byte) bool {
		if !bytes.HasPrefix(key, c.prefix) {
			return true
		}

		return fn(key[len(c.prefix):], value)
	})
}

func (c *childView) GetChild(prefix []byte) precommit.View {
	return &childView{parent: c, prefix: append([]byte(nil), prefix...)}
}
