package pagestore

import "encoding/binary"

// PageSize is the fixed size of every addressable page (spec.md §6.1/§6.2).
const PageSize = 4096

// NullAddr denotes the absence of a page address.
const NullAddr uint32 = 0xFFFFFFFF

// RootPageAddr is the reserved address of the root-counter page.
const RootPageAddr uint32 = 0

// pageHeaderSize is the fixed leading header every non-root page carries:
// batch_id (u32), flags (u16), level (u8), reserved (u8).
const pageHeaderSize = 8

// PagePayloadSize is the number of bytes available to a page's contents
// after its header.
const PagePayloadSize = PageSize - pageHeaderSize

// PageHeader is the fixed 8-byte prefix of every non-root page.
type PageHeader struct {
	BatchID uint32 // the root counter (truncated to 32 bits) at write time
	Flags   uint16
	Level   uint8
}

// ReadPageHeader decodes the header from the start of a page buffer.
func ReadPageHeader(buf []byte) PageHeader {
	return PageHeader{
		BatchID: binary.LittleEndian.Uint32(buf[0:4]),
		Flags:   binary.LittleEndian.Uint16(buf[4:6]),
		Level:   buf[6],
	}
}

// WritePageHeader encodes h into the start of a page buffer.
func WritePageHeader(buf []byte, h PageHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.BatchID)
	binary.LittleEndian.PutUint16(buf[4:6], h.Flags)
	buf[6] = h.Level
	buf[7] = 0
}

// Payload returns the mutable payload region of a page buffer, after its
// header.
func Payload(buf []byte) []byte {
	return buf[pageHeaderSize:]
}

// abandonedEntrySize is the size of one (addr, abandoned_at_batch) record in
// a metadata page's abandoned-page list.
const abandonedEntrySize = 8

// metaFixedSize is the fixed portion of a metadata page, before the
// abandoned-page list: batch_id, next_free_page, root_data_page,
// block_number (all u32), block_hash (32B), abandoned_count (u32).
const metaFixedSize = 4 + 4 + 4 + 4 + 32 + 4

// metaListCapacity is how many abandoned-page entries fit in the remainder
// of a metadata page.
const metaListCapacity = (PageSize - metaFixedSize) / abandonedEntrySize

// abandonedEntry records a page address abandoned during the commit that
// produced batch-id AbandonedAt; it becomes safe to reuse once the store's
// counter has advanced historyDepth-1 generations past AbandonedAt.
type abandonedEntry struct {
	Addr        uint32
	AbandonedAt uint32
}

// metadata is the decoded form of one metadata page (spec.md §3, §6.1).
type metadata struct {
	BatchID      uint32
	NextFreePage uint32
	RootDataPage uint32
	BlockNumber  uint32
	BlockHash    [32]byte
	Abandoned    []abandonedEntry
}

func decodeMetadata(buf []byte) metadata {
	var m metadata

	m.BatchID = binary.LittleEndian.Uint32(buf[0:4])
	m.NextFreePage = binary.LittleEndian.Uint32(buf[4:8])
	m.RootDataPage = binary.LittleEndian.Uint32(buf[8:12])
	m.BlockNumber = binary.LittleEndian.Uint32(buf[12:16])
	copy(m.BlockHash[:], buf[16:48])

	count := binary.LittleEndian.Uint32(buf[48:52])
	if int(count) > metaListCapacity {
		count = metaListCapacity
	}

	m.Abandoned = make([]abandonedEntry, 0, count)

	for i := range int(count) {
		off := metaFixedSize + i*abandonedEntrySize
		m.Abandoned = append(m.Abandoned, abandonedEntry{
			Addr:        binary.LittleEndian.Uint32(buf[off : off+4]),
			AbandonedAt: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		})
	}

	return m
}

func encodeMetadata(buf []byte, m metadata) {
	for i := range buf[:PageSize] {
		buf[i] = 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], m.BatchID)
	binary.LittleEndian.PutUint32(buf[4:8], m.NextFreePage)
	binary.LittleEndian.PutUint32(buf[8:12], m.RootDataPage)
	binary.LittleEndian.PutUint32(buf[12:16], m.BlockNumber)
	copy(buf[16:48], m.BlockHash[:])

	count := len(m.Abandoned)
	if count > metaListCapacity {
		count = metaListCapacity
	}

	binary.LittleEndian.PutUint32(buf[48:52], uint32(count))

	for i := range count {
		off := metaFixedSize + i*abandonedEntrySize
		binary.LittleEndian.PutUint32(buf[off:off+4], m.Abandoned[i].Addr)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], m.Abandoned[i].AbandonedAt)
	}
}

func readRootCounter(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf[0:8])
}

func writeRootCounter(buf []byte, counter uint64) {
	binary.LittleEndian.PutUint64(buf[0:8], counter)
}
