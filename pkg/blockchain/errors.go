package blockchain

import "errors"

// ErrMissingParent is returned by StartNew/StartReadOnly when parentHash
// names neither a block still in the overlay nor a state the page store
// can still resolve (spec.md §7).
var ErrMissingParent = errors.New("blockchain: missing parent block")

// ErrMissingBlock is returned by Finalize when hash is not in the overlay.
var ErrMissingBlock = errors.New("blockchain: missing block")

// ErrDoubleCommit is returned by Commit on a block that already committed.
var ErrDoubleCommit = errors.New("blockchain: block already committed")

// ErrStaleFinalize is returned by Finalize when hash names a block (still
// in the overlay or already flushed) whose number is not greater than the
// chain's last finalized block number and is not itself the last finalized
// block (spec.md §8 property 2: "finalizing with a
// descending block number is rejected").
var ErrStaleFinalize = errors.New("blockchain: finalize called with a descending block number")

// ErrBlockchainClosed is returned by StartNew/Finalize once Dispose has
// been called.
var ErrBlockchainClosed = errors.New("blockchain: closed")
