package bufpool

import "errors"

// ErrPoolExhausted is returned by Rent when every page the pool was
// constructed with is currently checked out.
var ErrPoolExhausted = errors.New("bufpool: no free page available")

// ErrWrongSize is returned by Return when buf is not exactly one page long.
var ErrWrongSize = errors.New("bufpool: returned buffer has the wrong size")

// ErrNotRented is returned by Return, under leak tracking, when buf was
// never handed out by this pool (or was already returned once).
var ErrNotRented = errors.New("bufpool: buffer was not rented from this pool")

// ErrLeaked is returned by Close, under leak tracking, when pages are still
// outstanding.
var ErrLeaked = errors.New("bufpool: pages still rented at close")
