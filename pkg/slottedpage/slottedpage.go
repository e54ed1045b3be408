// Package slottedpage implements the in-page slotted array: the
// cache-friendly (key, value) map used inside every trie data page,
// keyed by nibble-aligned paths with a vectorized (batched) hash probe.
//
// A Page owns no memory of its own; it is a view over a caller-supplied
// byte slice (typically a sub-slice of a 4 KiB page managed by
// pkg/pagestore). The buffer holds a small header (low/high/deleted byte
// counters) followed by a two-ended arena: slot metadata + hash words grow
// from the low end, variable-length entries grow from the high end.
package slottedpage

import (
	"encoding/binary"

	"github.com/paprikadb/paprika/pkg/nibblepath"
)

// batchSize is how many slots are compared per probe batch. Real vector
// hardware would compare 16 or 32 lanes at once (spec.md §4.3); without a
// portable Go SIMD intrinsic this is a plain scalar loop unrolled over the
// same batch width, which keeps the access pattern and branch shape
// identical across backends per the design note in spec.md §9.
const batchSize = 16

// Entry is a materialized (key, value) pair returned by enumeration.
type Entry struct {
	Key   nibblepath.Path
	Value []byte
}

// Page is a view over a slotted-array buffer.
type Page struct {
	buf []byte
}

// New initializes a fresh, empty slotted array over buf. buf must be at
// least HeaderSize bytes; the rest is treated as free space.
func New(buf []byte) (*Page, error) {
	if len(buf) < HeaderSize {
		return nil, ErrBufferTooSmall
	}

	for i := range buf {
		buf[i] = 0
	}

	return &Page{buf: buf}, nil
}

// Load wraps an existing buffer previously initialized by New (or
// round-tripped through a page store) without resetting its contents.
func Load(buf []byte) (*Page, error) {
	if len(buf) < HeaderSize {
		return nil, ErrBufferTooSmall
	}

	low, high, _ := readHeader(buf)
	if HeaderSize+int(low)+int(high) > len(buf) {
		return nil, ErrCorrupt
	}

	return &Page{buf: buf}, nil
}

func (p *Page) numSlots() int {
	low, _, _ := readHeader(p.buf)
	return int(low) / slotSize
}

// classify computes the key-preamble tag and parallel hash word for a key,
// per spec.md §4.3's short-key/trimmed-key split.
func classify(key nibblepath.Path) (tag uint8, hash uint16) {
	n := key.Len()
	if n > 4 {
		first2 := uint16(key.At(0))<<4 | uint16(key.At(1))
		last2 := uint16(key.At(n-2))<<4 | uint16(key.At(n-1))

		return tagTrimmed, first2<<8 | last2
	}

	var h uint16
	for i := range n {
		h |= uint16(key.At(i)) << (12 - 4*i)
	}

	return uint8(n), h
}

// reconstructShortKey rebuilds the nibble path for a length-0..4 key
// directly from its hash word; for these lengths the hash embeds every
// nibble so no trimmed bytes are ever stored.
func reconstructShortKey(tag uint8, hash uint16) nibblepath.Path {
	length := int(tag)
	data := make([]byte, (length+1)/2)

	for i := range length {
		v := byte((hash >> (12 - 4*i)) & 0xF)
		if i%2 == 0 {
			data[i/2] |= v << 4
		} else {
			data[i/2] |= v
		}
	}

	return nibblepath.New(data).Take(length)
}

func encodeEntry(tag uint8, key nibblepath.Path, value []byte) []byte {
	var out []byte
	if tag == tagTrimmed {
		out = append(out, key.Encode()...)
	}

	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(value)))
	out = append(out, lenBuf[:]...)
	out = append(out, value...)

	return out
}

func decodeEntry(buf []byte, tag uint8) (trimmed nibblepath.Path, value []byte, consumed int, err error) {
	pos := 0

	if tag == tagTrimmed {
		path, n, derr := nibblepath.Decode(buf)
		if derr != nil {
			return nibblepath.Path{}, nil, 0, derr
		}

		trimmed = path
		pos = n
	}

	if len(buf) < pos+2 {
		return nibblepath.Path{}, nil, 0, ErrCorrupt
	}

	vlen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
	pos += 2

	if len(buf) < pos+vlen {
		return nibblepath.Path{}, nil, 0, ErrCorrupt
	}

	value = buf[pos : pos+vlen]
	pos += vlen

	return trimmed, value, pos, nil
}

// keyAt reconstructs the logical key stored at slot i, or ok=false if the
// slot is a tombstone.
func (p *Page) keyAt(i int) (key nibblepath.Path, value []byte, tag uint8, ok bool) {
	meta, hash := readSlot(p.buf, i)

	addr, tag, _ := unpackMeta(meta)
	if tag == tagDeleted {
		return nibblepath.Path{}, nil, tag, false
	}

	trimmed, value, _, err := decodeEntry(p.buf[addr:], tag)
	if err != nil {
		return nibblepath.Path{}, nil, tag, false
	}

	if tag == tagTrimmed {
		return trimmed, value, tag, true
	}

	return reconstructShortKey(tag, hash), value, tag, true
}

// findSlot scans the slot table in fixed-size batches for a live slot whose
// (tag, hash) matches key, verifying full equality on a trimmed-key hit.
func (p *Page) findSlot(key nibblepath.Path, tag uint8, hash uint16) (int, bool) {
	n := p.numSlots()

	for base := 0; base < n; base += batchSize {
		end := min(base+batchSize, n)

		for i := base; i < end; i++ {
			meta, slotHash := readSlot(p.buf, i)
			if slotHash != hash {
				continue
			}

			addr, slotTag, _ := unpackMeta(meta)
			if slotTag != tag {
				continue
			}

			if tag == tagTrimmed {
				trimmed, _, _, err := decodeEntry(p.buf[addr:], tag)
				if err != nil || !trimmed.Equal(key) {
					continue
				}
			}

			return i, true
		}
	}

	return 0, false
}

func (p *Page) fits(newSlot bool, entryLen int) bool {
	low, high, _ := readHeader(p.buf)

	if newSlot {
		low += slotSize
	}

	high += uint32(entryLen)

	return HeaderSize+int(low)+int(high) <= len(p.buf)
}

// append writes a brand new slot + entry, without checking capacity first.
func (p *Page) append(key nibblepath.Path, tag uint8, hash uint16, entry []byte) {
	low, high, deleted := readHeader(p.buf)

	addr := len(p.buf) - int(high) - len(entry)
	copy(p.buf[addr:addr+len(entry)], entry)

	idx := int(low) / slotSize
	writeSlot(p.buf, idx, packMeta(uint16(addr), tag, key.IsOdd()), hash)

	writeHeader(p.buf, low+slotSize, high+uint32(len(entry)), deleted)
}

// TrySet inserts or overwrites key with value. It returns false if the page
// has no room even after defragmentation; the caller should then push
// entries into a child page (spec.md §4.4).
func (p *Page) TrySet(key nibblepath.Path, value []byte) (bool, error) {
	if key.Len() > nibblepath.MaxNibbles {
		return false, ErrKeyTooLong
	}

	tag, hash := classify(key)
	entry := encodeEntry(tag, key, value)

	idx, found := p.findSlot(key, tag, hash)
	if found {
		meta, _ := readSlot(p.buf, idx)
		addr, slotTag, _ := unpackMeta(meta)

		_, oldValue, _, err := decodeEntry(p.buf[addr:], slotTag)
		if err == nil && len(oldValue) == len(value) {
			// Same-length overwrite: rewrite in place, key bytes (if any)
			// are unchanged so only the trailing value bytes differ.
			copy(oldValue, value)

			return true, nil
		}

		p.deleteSlot(idx)
	}

	if !p.fits(true, len(entry)) {
		p.Defragment()

		if !p.fits(true, len(entry)) {
			return false, nil
		}
	}

	p.append(key, tag, hash, entry)

	return true, nil
}

// TryGet returns the value stored for key, if present.
func (p *Page) TryGet(key nibblepath.Path) ([]byte, bool) {
	tag, hash := classify(key)

	idx, found := p.findSlot(key, tag, hash)
	if !found {
		return nil, false
	}

	meta, _ := readSlot(p.buf, idx)
	addr, slotTag, _ := unpackMeta(meta)

	_, value, _, err := decodeEntry(p.buf[addr:], slotTag)
	if err != nil {
		return nil, false
	}

	return value, true
}

// deleteSlot tombstones slot i and accounts its entry bytes as reclaimable.
func (p *Page) deleteSlot(i int) {
	meta, _ := readSlot(p.buf, i)
	addr, tag, _ := unpackMeta(meta)

	_, _, consumed, err := decodeEntry(p.buf[addr:], tag)
	if err != nil {
		consumed = 0
	}

	writeSlot(p.buf, i, packMeta(0, tagDeleted, false), deletedHash)

	low, high, deleted := readHeader(p.buf)
	writeHeader(p.buf, low, high, deleted+uint32(consumed))

	p.tailCompact()
}

// tailCompact drops contiguous tombstones at the end of the slot vector,
// shrinking the slot table itself without waiting for Defragment.
func (p *Page) tailCompact() {
	for {
		n := p.numSlots()
		if n == 0 {
			return
		}

		meta, _ := readSlot(p.buf, n-1)
		_, tag, _ := unpackMeta(meta)

		if tag != tagDeleted {
			return
		}

		low, high, deleted := readHeader(p.buf)
		writeHeader(p.buf, low-slotSize, high, deleted)
	}
}

// Delete logically removes key. It reports whether the key was present.
func (p *Page) Delete(key nibblepath.Path) bool {
	tag, hash := classify(key)

	idx, found := p.findSlot(key, tag, hash)
	if !found {
		return false
	}

	p.deleteSlot(idx)

	return true
}

// EnumerateAll returns every live entry in insertion order.
func (p *Page) EnumerateAll() []Entry {
	n := p.numSlots()
	out := make([]Entry, 0, n)

	for i := range n {
		key, value, _, ok := p.keyAt(i)
		if !ok {
			continue
		}

		out = append(out, Entry{Key: key, Value: value})
	}

	return out
}

// EnumerateNibble returns every live entry whose leading nibble is n.
func (p *Page) EnumerateNibble(n byte) []Entry {
	count := p.numSlots()
	out := make([]Entry, 0)

	for i := range count {
		key, value, _, ok := p.keyAt(i)
		if !ok || key.Empty() || key.First() != n {
			continue
		}

		out = append(out, Entry{Key: key, Value: value})
	}

	return out
}

// DeleteByPrefix removes every live entry whose key has prefix, per
// spec.md §4.3: length 0 clears the page, length 1 uses the nibble bucket,
// length 2+ is a full scan. It returns the number of entries removed.
func (p *Page) DeleteByPrefix(prefix nibblepath.Path) int {
	switch prefix.Len() {
	case 0:
		n := p.Len()
		p.clear()

		return n
	case 1:
		return p.deleteWhere(func(key nibblepath.Path) bool {
			return !key.Empty() && key.First() == prefix.First()
		})
	default:
		return p.deleteWhere(func(key nibblepath.Path) bool {
			return key.HasPrefix(prefix)
		})
	}
}

func (p *Page) deleteWhere(match func(nibblepath.Path) bool) int {
	removed := 0
	n := p.numSlots()

	for i := range n {
		meta, _ := readSlot(p.buf, i)
		_, tag, _ := unpackMeta(meta)

		if tag == tagDeleted {
			continue
		}

		key, _, _, ok := p.keyAt(i)
		if !ok || !match(key) {
			continue
		}

		p.deleteSlot(i)

		removed++
	}

	return removed
}

func (p *Page) clear() {
	writeHeader(p.buf, 0, 0, 0)
}

// Len returns the number of live entries.
func (p *Page) Len() int {
	n := p.numSlots()
	count := 0

	for i := range n {
		meta, _ := readSlot(p.buf, i)
		_, tag, _ := unpackMeta(meta)

		if tag != tagDeleted {
			count++
		}
	}

	return count
}

// Defragment rebuilds the slot table and entry arena, dropping all
// tombstones and preserving the insertion order of live entries.
func (p *Page) Defragment() {
	entries := p.EnumerateAll()

	writeHeader(p.buf, 0, 0, 0)

	for _, e := range entries {
		tag, hash := classify(e.Key)
		entry := encodeEntry(tag, e.Key, e.Value)
		p.append(e.Key, tag, hash, entry)
	}
}
