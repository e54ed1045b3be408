package filter

import "errors"

// ErrConstructionFailed is returned by BuildXOR8 if the peeling
// construction could not find a stable assignment within the bounded
// number of seed retries. Astronomically unlikely for random 64-bit
// hashes; surfaced rather than looping forever.
var ErrConstructionFailed = errors.New("filter: xor8 construction did not converge")
