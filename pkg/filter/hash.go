package filter

import "hash/fnv"

// HashBytes reduces an arbitrary-length key (typically a triepage.Key's
// encoded form) to the uint64 that MutableBloom.Add/MayContain and
// BuildXOR8/Contains operate on. spec.md leaves key hashing for the bloom
// and XOR filters unspecified beyond "hash the key"; FNV-1a is the
// stdlib's own well-known non-cryptographic hash and needs no pack
// dependency to provide it.
func HashBytes(key []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(key)

	return h.Sum64()
}
