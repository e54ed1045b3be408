package spandict

import "encoding/binary"

// nullAddr denotes the absence of a bucket/next address, mirroring
// pagestore's sentinel for the same concept in an unrelated address space.
const nullAddr uint32 = 0xFFFFFFFF

// recordHeaderSize is the fixed 3-byte header preceding every record
// (spec.md §4.5): a tag, a destroyed bit, an internal tombstone bit, and the
// leftover high bits of the key's hash not consumed by bucket selection.
const recordHeaderSize = 3

// leftoverBits is how many bits of the 24-bit header store the leftover
// hash, after 1 tombstone bit, 1 destroyed bit, and a 2-bit metadata tag.
const leftoverBits = 20

// recordFixedSize is the header plus next-pointer plus the two length
// prefixes, before key and value bytes.
const recordFixedSize = recordHeaderSize + 4 + 1 + 2

// packHeader encodes a record header into its low 24 bits.
//
// tombstoned marks a record superseded by a newer write (physically dead,
// skipped by find/enumerate but still occupying its page); it is an
// implementation addition beyond spec.md's bare "2-bit tag + destroyed bit"
// description, needed because try_set's non-preserve overwrite path must be
// able to tell a superseded record from a live one without a second index.
func packHeader(tombstoned, destroyed bool, tag uint8, leftover uint32) uint32 {
	var h uint32

	if tombstoned {
		h |= 1
	}

	if destroyed {
		h |= 1 << 1
	}

	h |= uint32(tag&0x3) << 2
	h |= (leftover & ((1 << leftoverBits) - 1)) << 4

	return h
}

func unpackHeader(h uint32) (tombstoned, destroyed bool, tag uint8, leftover uint32) {
	tombstoned = h&1 != 0
	destroyed = h&(1<<1) != 0
	tag = uint8((h >> 2) & 0x3)
	leftover = (h >> 4) & ((1 << leftoverBits) - 1)

	return
}

func readHeader(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
}

func writeHeader(buf []byte, h uint32) {
	buf[0] = byte(h)
	buf[1] = byte(h >> 8)
	buf[2] = byte(h >> 16)
}

// recordLen returns the total byte length of a record with the given key
// and value.
func recordLen(keyLen, valueLen int) int {
	return recordFixedSize + keyLen + valueLen
}

// writeRecord encodes a full record (header, next pointer, key, value) into
// buf, which must be at least recordLen(len(key), len(value)) bytes.
func writeRecord(buf []byte, header, next uint32, key, value []byte) {
	writeHeader(buf, header)
	binary.LittleEndian.PutUint32(buf[3:7], next)
	buf[7] = byte(len(key))
	copy(buf[8:8+len(key)], key)

	vOff := 8 + len(key)
	binary.LittleEndian.PutUint16(buf[vOff:vOff+2], uint16(len(value)))
	copy(buf[vOff+2:vOff+2+len(value)], value)
}

func recordNext(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf[3:7])
}

func recordKey(buf []byte) []byte {
	keyLen := int(buf[7])
	return buf[8 : 8+keyLen]
}

func recordValue(buf []byte) []byte {
	keyLen := int(buf[7])
	vOff := 8 + keyLen
	vLen := int(binary.LittleEndian.Uint16(buf[vOff : vOff+2]))

	return buf[vOff+2 : vOff+2+vLen]
}

// setRecordValue overwrites a record's value bytes and length prefix in
// place. Callers must ensure len(value) does not exceed the record's
// originally allocated value capacity.
func setRecordValue(buf []byte, value []byte) {
	keyLen := int(buf[7])
	vOff := 8 + keyLen

	binary.LittleEndian.PutUint16(buf[vOff:vOff+2], uint16(len(value)))
	copy(buf[vOff+2:vOff+2+len(value)], value)
}

// valueCapacity returns how many value bytes are currently stored at this
// record, i.e. the most value bytes an in-place overwrite could reuse
// without extending past the record's original layout.
func valueCapacity(buf []byte) int {
	return len(recordValue(buf))
}
