// Package spandict implements the pooled span dictionary of spec.md §4.5:
// an off-heap, slab-backed, open-addressed bucket table used as the
// in-memory overlay for a block's pending writes. Buckets live in pages
// rented from pkg/bufpool; records are appended to a growing list of entry
// pages and linked into their bucket's chain, giving every returned value
// span a stable address for as long as the dictionary is alive.
package spandict

import (
	"sync/atomic"
	"unsafe"

	"github.com/paprikadb/paprika/pkg/bufpool"
)

const (
	pageOffsetBits = 12
	pageOffsetMask = (1 << pageOffsetBits) - 1

	rootPageCount      = 16
	bucketsPerRootPage = bufpool.DefaultPageSize / 4

	// BucketCount is the fixed number of hash buckets a Dict provides,
	// spread across rootPageCount root pages (spec.md §4.5).
	BucketCount = rootPageCount * bucketsPerRootPage
)

// Metadata is the 2-bit entry-type tag carried by every record (spec.md
// §4.5's "2-bit metadata tag"). pkg/blockchain's cache budget (spec.md
// §4.8) marks a read-through entry MetaCached while the block's budget
// lasts and MetaUseOnce once it is exhausted.
type Metadata uint8

const (
	MetaNormal Metadata = iota
	MetaCached
	MetaUseOnce
	metaReserved
)

// Record is a decoded dictionary entry returned by TryGet/Enumerate.
type Record struct {
	Value     []byte
	Metadata  Metadata
	Destroyed bool
}

// Dict is one pooled span dictionary: a block's state, storage, or
// pre-commit overlay.
type Dict struct {
	pool        *bufpool.Pool
	preserveOld bool

	rootPages [][]byte
	rootWords [][]atomic.Uint32

	entryPages [][]byte
	entryUsed  []int

	count int
}

// New rents rootPageCount pages from pool for the bucket region and
// returns an empty Dict. If preserveOldValues is true, Set never updates a
// record in place — every write appends a fresh record, so references
// returned by a prior TryGet remain valid and unchanged (spec.md §8
// property 6).
func New(pool *bufpool.Pool, preserveOldValues bool) (*Dict, error) {
	d := &Dict{pool: pool, preserveOld: preserveOldValues}

	for range rootPageCount {
		buf, err := pool.Rent(false)
		if err != nil {
			d.Dispose()

			return nil, err
		}

		words := bucketWords(buf)
		for i := range words {
			words[i].Store(nullAddr)
		}

		d.rootPages = append(d.rootPages, buf)
		d.rootWords = append(d.rootWords, words)
	}

	return d, nil
}

// bucketWords reinterprets a rented page as a slice of atomic 32-bit words,
// so the bucket-head publication described in spec.md §5 ("the bucket head
// is published last with a release store; readers acquire-load the bucket
// head") is a real atomic operation rather than a plain slice write.
func bucketWords(buf []byte) []atomic.Uint32 {
	n := len(buf) / 4

	return unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(&buf[0])), n)
}

func (d *Dict) bucketSlot(bucket uint32) (page int, idx int) {
	return int(bucket) / bucketsPerRootPage, int(bucket) % bucketsPerRootPage
}

func (d *Dict) getBucketHead(bucket uint32) uint32 {
	page, idx := d.bucketSlot(bucket)

	return d.rootWords[page][idx].Load()
}

func (d *Dict) setBucketHead(bucket uint32, addr uint32) {
	page, idx := d.bucketSlot(bucket)
	d.rootWords[page][idx].Store(addr)
}

func splitHash(hash uint64) (bucket uint32, leftover uint32) {
	bucket = uint32(hash % uint64(BucketCount))
	leftover = uint32((hash / uint64(BucketCount)) & ((1 << leftoverBits) - 1))

	return bucket, leftover
}

func (d *Dict) recordAt(addr uint32) []byte {
	page := addr >> pageOffsetBits
	off := addr & pageOffsetMask

	return d.entryPages[page][off:]
}

// TryGet looks up key (pre-hashed by the caller into hash, per spec.md
// §4.5: "compute (leftover, bucket) = hash / bucket_count, hash %
// bucket_count"). The returned Record's Value aliases the dictionary's
// internal storage and remains valid until Dispose.
func (d *Dict) TryGet(key []byte, hash uint64) (Record, bool) {
	bucket, leftover := splitHash(hash)

	for addr := d.getBucketHead(bucket); addr != nullAddr; {
		buf := d.recordAt(addr)

		tomb, destroyed, tag, lo := unpackHeader(readHeader(buf))
		if !tomb && lo == leftover && keysEqual(recordKey(buf), key) {
			return Record{Value: recordValue(buf), Metadata: Metadata(tag), Destroyed: destroyed}, true
		}

		addr = recordNext(buf)
	}

	return Record{}, false
}

func keysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// Set inserts or overwrites the entry for key. With preserveOldValues
// false, an existing record whose value fits in the already-allocated
// value capacity is overwritten in place; otherwise (preserveOldValues
// true, or the new value is larger) the old record is tombstoned and a
// fresh one is appended and linked at the bucket head.
func (d *Dict) Set(key []byte, hash uint64, value []byte, meta Metadata) error {
	if len(key) > 0xFF {
		return ErrKeyTooLong
	}

	bucket, leftover := splitHash(hash)

	addr := d.getBucketHead(bucket)
	for addr != nullAddr {
		buf := d.recordAt(addr)

		tomb, _, _, lo := unpackHeader(readHeader(buf))
		if !tomb && lo == leftover && keysEqual(recordKey(buf), key) {
			if !d.preserveOld && len(value) <= valueCapacity(buf) {
				setRecordValue(buf, value)
				writeHeader(buf, packHeader(false, false, uint8(meta), leftover))

				return nil
			}

			writeHeader(buf, packHeader(true, false, 0, leftover))

			break
		}

		addr = recordNext(buf)
	}

	return d.appendAndLink(bucket, leftover, key, value, meta, false)
}

// Destroy marks the entry for key as logically destroyed: it remains on
// the chain (so later enumeration or a future un-destroy within the same
// block can still see it was present) but TryGet reports Destroyed=true.
// Reports whether key was found.
func (d *Dict) Destroy(key []byte, hash uint64) bool {
	bucket, leftover := splitHash(hash)

	for addr := d.getBucketHead(bucket); addr != nullAddr; {
		buf := d.recordAt(addr)

		tomb, _, tag, lo := unpackHeader(readHeader(buf))
		if !tomb && lo == leftover && keysEqual(recordKey(buf), key) {
			writeHeader(buf, packHeader(false, true, tag, leftover))

			return true
		}

		addr = recordNext(buf)
	}

	return false
}

func (d *Dict) appendAndLink(bucket, leftover uint32, key, value []byte, meta Metadata, destroyed bool) error {
	need := recordLen(len(key), len(value))
	if need > bufpool.DefaultPageSize {
		return ErrEntryTooLarge
	}

	if len(d.entryPages) == 0 || d.entryUsed[len(d.entryPages)-1]+need > len(d.entryPages[len(d.entryPages)-1]) {
		buf, err := d.pool.Rent(false)
		if err != nil {
			return err
		}

		d.entryPages = append(d.entryPages, buf)
		d.entryUsed = append(d.entryUsed, 0)
	}

	idx := len(d.entryPages) - 1
	off := d.entryUsed[idx]

	head := d.getBucketHead(bucket)
	header := packHeader(false, destroyed, uint8(meta), leftover)

	writeRecord(d.entryPages[idx][off:], header, head, key, value)
	d.entryUsed[idx] += need

	addr := (uint32(idx) << pageOffsetBits) | uint32(off)
	d.setBucketHead(bucket, addr)
	d.count++

	return nil
}

// Enumerate calls fn for every live (not tombstoned) record across all
// buckets, in unspecified order. Enumerate stops early if fn returns
// false.
func (d *Dict) Enumerate(fn func(key []byte, rec Record) bool) {
	for bucket := uint32(0); bucket < BucketCount; bucket++ {
		for addr := d.getBucketHead(bucket); addr != nullAddr; {
			buf := d.recordAt(addr)

			tomb, destroyed, tag, _ := unpackHeader(readHeader(buf))
			if !tomb {
				if !fn(recordKey(buf), Record{Value: recordValue(buf), Metadata: Metadata(tag), Destroyed: destroyed}) {
					return
				}
			}

			addr = recordNext(buf)
		}
	}
}

// Len reports the number of Set calls that appended a new record (i.e. the
// total number of records ever linked, live or tombstoned).
func (d *Dict) Len() int { return d.count }

// Dispose returns every page this dictionary rented back to its pool. The
// Dict must not be used afterward.
func (d *Dict) Dispose() {
	for _, p := range d.rootPages {
		_ = d.pool.Return(p)
	}

	for _, p := range d.entryPages {
		_ = d.pool.Return(p)
	}

	d.rootPages = nil
	d.rootWords = nil
	d.entryPages = nil
	d.entryUsed = nil
}
