package slottedpage

import "encoding/binary"

// HeaderSize is the fixed-size header at the start of every slotted-array
// buffer: three uint32 counters (low, high, deleted).
const HeaderSize = 12

// slotSize is the size in bytes of one (meta, hash) record. The two values
// are kept adjacent per slot rather than in two physically separate vectors
// so that growing the slot count never requires moving existing records;
// they remain "parallel vectors" logically, addressed with a fixed stride.
const slotSize = 4

// AddressMask is the maximum addressable page-offset a 12-bit item_address
// can reference inside a single page (spec.md §4.3).
const AddressMask = 0x0FFF

// Key-preamble tags (3 bits) stored in each slot's meta word.
const (
	tagLen0    = 0 // key has 0 nibbles, fully embedded in the hash word
	tagLen1    = 1
	tagLen2    = 2
	tagLen3    = 3
	tagLen4    = 4
	tagTrimmed = 5 // key is 5+ nibbles; trimmed bytes are stored in the entry
	tagDeleted = 6 // tombstone
	// 7 is reserved.
)

// deletedHash is written over a tombstoned slot's hash word. It carries no
// special meaning beyond being a fixed, easily recognized sentinel: matches
// are always gated on the meta tag as well, so this never needs to be
// collision-free on its own.
const deletedHash = 0xFFFF

func readHeader(buf []byte) (low, high, deleted uint32) {
	low = binary.LittleEndian.Uint32(buf[0:4])
	high = binary.LittleEndian.Uint32(buf[4:8])
	deleted = binary.LittleEndian.Uint32(buf[8:12])

	return
}

func writeHeader(buf []byte, low, high, deleted uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], low)
	binary.LittleEndian.PutUint32(buf[4:8], high)
	binary.LittleEndian.PutUint32(buf[8:12], deleted)
}

func slotOffset(i int) int { return HeaderSize + i*slotSize }

func readSlot(buf []byte, i int) (meta, hash uint16) {
	off := slotOffset(i)
	meta = binary.LittleEndian.Uint16(buf[off : off+2])
	hash = binary.LittleEndian.Uint16(buf[off+2 : off+4])

	return
}

func writeSlot(buf []byte, i int, meta, hash uint16) {
	off := slotOffset(i)
	binary.LittleEndian.PutUint16(buf[off:off+2], meta)
	binary.LittleEndian.PutUint16(buf[off+2:off+4], hash)
}

// packMeta combines the item address, key-preamble tag, and oddity bit into
// one 16-bit slot-metadata word.
func packMeta(addr uint16, tag uint8, odd bool) uint16 {
	m := addr & AddressMask
	m |= uint16(tag&0x7) << 12

	if odd {
		m |= 1 << 15
	}

	return m
}

func unpackMeta(m uint16) (addr uint16, tag uint8, odd bool) {
	addr = m & AddressMask
	tag = uint8((m >> 12) & 0x7)
	odd = m&(1<<15) != 0

	return
}
