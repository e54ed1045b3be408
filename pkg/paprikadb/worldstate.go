package paprikadb

import "github.com/paprikadb/paprika/pkg/blockchain"

// WorldState is a writable block-in-progress (spec.md §6.5): get/set
// account and storage, destroy an account, commit to seal it into the
// blockchain overlay, or reset to discard pending writes and start over.
type WorldState struct {
	bs *blockchain.BlockState
}

// Hash returns the block's hash once committed, the zero value before.
func (w *WorldState) Hash() [32]byte { return w.bs.Hash() }

// ParentHash returns the hash this WorldState was started on top of.
func (w *WorldState) ParentHash() [32]byte { return w.bs.ParentHash() }

// GetAccount resolves an account's (balance, nonce).
func (w *WorldState) GetAccount(accountHash [32]byte) (balance, nonce [32]byte, found bool, err error) {
	return w.bs.GetAccount(accountHash)
}

// SetAccount writes an account's (balance, nonce).
func (w *WorldState) SetAccount(accountHash [32]byte, balance, nonce [32]byte) error {
	return w.bs.SetAccount(accountHash, balance, nonce)
}

// GetStorage resolves a single 32-byte storage cell.
func (w *WorldState) GetStorage(accountHash, storageKeyHash [32]byte) (value [32]byte, found bool, err error) {
	return w.bs.GetStorage(accountHash, storageKeyHash)
}

// SetStorage writes a single 32-byte storage cell.
func (w *WorldState) SetStorage(accountHash, storageKeyHash, value [32]byte) error {
	return w.bs.SetStorage(accountHash, storageKeyHash, value)
}

// DestroyAccount marks accountHash as destroyed for the remainder of this
// block and all its descendants: every read of its account or storage
// through them returns not-found regardless of ancestor or store content.
func (w *WorldState) DestroyAccount(accountHash [32]byte) error {
	return w.bs.DestroyAccount(accountHash)
}

// Commit seals this block under blockNumber, invoking the configured
// pre-commit hook to derive its hash, and registers it into the blockchain
// overlay so descendants can be started on top of it.
func (w *WorldState) Commit(blockNumber uint32) ([32]byte, error) {
	return w.bs.Commit(blockNumber)
}

// Reset discards every pending write, restoring the state StartNew first
// returned.
func (w *WorldState) Reset() error { return w.bs.Reset() }

// Close abandons this WorldState without committing it, releasing its
// leased ancestors and read-only store batch.
func (w *WorldState) Close() error { return w.bs.Close() }

// ReadOnlyWorldState is a read-only snapshot: the same resolution ladder as
// WorldState, but every write operation is rejected.
type ReadOnlyWorldState struct {
	bs *blockchain.BlockState
}

// ParentHash returns the hash this snapshot was started on top of.
func (r *ReadOnlyWorldState) ParentHash() [32]byte { return r.bs.ParentHash() }

// GetAccount resolves an account's (balance, nonce).
func (r *ReadOnlyWorldState) GetAccount(accountHash [32]byte) (balance, nonce [32]byte, found bool, err error) {
	return r.bs.GetAccount(accountHash)
}

// GetStorage resolves a single 32-byte storage cell.
func (r *ReadOnlyWorldState) GetStorage(accountHash, storageKeyHash [32]byte) (value [32]byte, found bool, err error) {
	return r.bs.GetStorage(accountHash, storageKeyHash)
}

// Close releases this snapshot's leased ancestors and read-only store
// batch.
func (r *ReadOnlyWorldState) Close() error { return r.bs.Close() }
