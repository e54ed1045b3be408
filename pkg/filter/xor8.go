package filter

// XOR8Filter is the immutable, 8-bit-fingerprint XOR filter a block's
// MutableBloom is frozen into at commit (spec.md §4.7/§9). It never has
// false negatives and has a roughly 1/256 false-positive rate, with a much
// smaller and faster representation than the mutable bloom stage it
// replaces — appropriate once a block's key set is final and read-only.
//
// No XOR-filter library appears anywhere in the retrieval pack (see
// DESIGN.md), so this is a from-scratch implementation of the standard
// 3-wise peeling construction ("Xor Filters: Faster and Smaller Than Bloom
// and Cuckoo Filters", Graf & Lemire).
type XOR8Filter struct {
	seed         uint64
	blockLength  uint32
	fingerprints []uint8
}

func mix64(key uint64) uint64 {
	key = (^key) + (key << 21)
	key ^= key >> 24
	key += (key << 3) + (key << 8)
	key ^= key >> 14
	key += (key << 2) + (key << 4)
	key ^= key >> 28
	key += key << 31

	return key
}

// mixhash derives the filter's internal 64-bit hash for a caller-provided
// key hash. All three slot positions and the stored fingerprint are
// derived from this value, never from the raw key again.
func mixhash(key, seed uint64) uint64 {
	return mix64(key + seed)
}

func rotl64(n uint64, c uint) uint64 {
	return (n << (c & 63)) | (n >> ((64 - c) & 63))
}

func reduce(hash, n uint32) uint32 {
	return uint32((uint64(hash) * uint64(n)) >> 32)
}

func fingerprintOf(hash uint64) uint8 {
	return uint8(hash ^ (hash >> 32))
}

type hashTriple struct {
	h0, h1, h2 uint32
}

// tripleFromHash computes a slot triple directly from an already-mixed
// hash value (mixhash's output), without touching the original key. This
// is the function the peeling construction calls when it only has a
// slot's accumulated XOR-of-hashes left, not the key that produced it.
func tripleFromHash(hash uint64, blockLength uint32) hashTriple {
	r0 := uint32(hash)
	r1 := uint32(rotl64(hash, 21))
	r2 := uint32(rotl64(hash, 42))

	return hashTriple{
		h0: reduce(r0, blockLength),
		h1: reduce(r1, blockLength) + blockLength,
		h2: reduce(r2, blockLength) + 2*blockLength,
	}
}

func (f *XOR8Filter) hashAndTriple(key uint64) (uint64, hashTriple) {
	hash := mixhash(key, f.seed)

	return hash, tripleFromHash(hash, f.blockLength)
}

// Contains reports whether key might be a member; false is authoritative.
func (f *XOR8Filter) Contains(key uint64) bool {
	if len(f.fingerprints) == 0 {
		return false
	}

	hash, h := f.hashAndTriple(key)
	want := fingerprintOf(hash)
	got := f.fingerprints[h.h0] ^ f.fingerprints[h.h1] ^ f.fingerprints[h.h2]

	return got == want
}

// maxBuildRetries bounds the number of reseed attempts the peeling
// construction makes before giving up. A correctly sized table converges
// on the first or second attempt essentially always; this is a safety
// backstop, not an expected code path.
const maxBuildRetries = 100

// BuildXOR8 constructs an immutable filter containing exactly the given set
// of 64-bit key hashes (typically pkg/blockchain's per-key hash, collected
// across a block's lifetime from its MutableBloom's Add calls).
func BuildXOR8(keys []uint64) (*XOR8Filter, error) {
	// A repeated hash cancels itself out of the XOR sets and stalls peeling,
	// so each distinct hash is kept once.
	seen := make(map[uint64]struct{}, len(keys))
	unique := make([]uint64, 0, len(keys))

	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}

		seen[k] = struct{}{}
		unique = append(unique, k)
	}

	keys = unique

	size := uint32(len(keys))

	capacity := uint32(32) + uint32((uint64(123)*uint64(size))/100)
	capacity = (capacity / 3) * 3

	if capacity < 3 {
		capacity = 3
	}

	blockLength := capacity / 3

	f := &XOR8Filter{blockLength: blockLength}

	seed := uint64(0x9e3779b97f4a7c15)

	for attempt := 0; attempt < maxBuildRetries; attempt++ {
		f.seed = seed

		fp, ok := tryPeel(f, keys, capacity)
		if ok {
			f.fingerprints = fp

			return f, nil
		}

		seed = mix64(seed + uint64(attempt) + 1)
	}

	return nil, ErrConstructionFailed
}

// tryPeel runs one attempt of the 3-wise peeling construction at the
// current seed: build the per-slot XOR-of-hashes/count sets, repeatedly
// peel degree-1 slots onto a stack, and on success assign fingerprints by
// replaying the stack in reverse.
func tryPeel(f *XOR8Filter, keys []uint64, capacity uint32) ([]uint8, bool) {
	type xorSet struct {
		xormask uint64
		count   uint32
	}

	sets := make([]xorSet, capacity)

	for _, k := range keys {
		hash, h := f.hashAndTriple(k)

		sets[h.h0].xormask ^= hash
		sets[h.h0].count++
		sets[h.h1].xormask ^= hash
		sets[h.h1].count++
		sets[h.h2].xormask ^= hash
		sets[h.h2].count++
	}

	type stackEntry struct {
		hash   uint64
		triple hashTriple
		slot   uint32
	}

	stack := make([]stackEntry, 0, len(keys))

	queue := make([]uint32, 0, capacity)
	for i := uint32(0); i < capacity; i++ {
		if sets[i].count == 1 {
			queue = append(queue, i)
		}
	}

	for len(queue) > 0 {
		slot := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if sets[slot].count != 1 {
			continue
		}

		hash := sets[slot].xormask
		triple := tripleFromHash(hash, f.blockLength)

		stack = append(stack, stackEntry{hash: hash, triple: triple, slot: slot})

		for _, s := range [3]uint32{triple.h0, triple.h1, triple.h2} {
			sets[s].xormask ^= hash
			sets[s].count--

			if sets[s].count == 1 {
				queue = append(queue, s)
			}
		}
	}

	if len(stack) != len(keys) {
		return nil, false
	}

	fingerprints := make([]uint8, capacity)

	for i := len(stack) - 1; i >= 0; i-- {
		e := stack[i]

		fp := fingerprintOf(e.hash)
		for _, s := range [3]uint32{e.triple.h0, e.triple.h1, e.triple.h2} {
			if s != e.slot {
				fp ^= fingerprints[s]
			}
		}

		fingerprints[e.slot] = fp
	}

	return fingerprints, true
}
