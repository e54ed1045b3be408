// Package triepage implements the trie data page of spec.md §4.4: a 16-way
// nibble fan-out table paired with an inline slotted array, recursively
// descending one nibble per page until an entry fits locally or a child page
// is allocated to absorb an overflowing nibble bucket.
package triepage

import (
	"encoding/binary"
	"fmt"

	"github.com/paprikadb/paprika/pkg/nibblepath"
	"github.com/paprikadb/paprika/pkg/pagestore"
	"github.com/paprikadb/paprika/pkg/slottedpage"
)

const childCount = 16

// childTableSize is the byte length of the 16 page-relative child addresses
// that prefix every trie data page's payload.
const childTableSize = childCount * 4

// Page is a view over one trie data page's full buffer (pagestore's 8-byte
// header, 16 child addresses, then an inline slotted array).
type Page struct {
	buf   []byte
	slots *slottedpage.Page
}

// New initializes a fresh, empty trie data page over buf (a full page
// buffer, as returned by pagestore.Batch.GetAt/GetNewDirtyPage/GetWritableCopy).
func New(buf []byte) (*Page, error) {
	if len(buf) < pagestore.PageSize {
		return nil, ErrBufferTooSmall
	}

	children := childTable(buf)
	for i := range childCount {
		binary.LittleEndian.PutUint32(children[i*4:i*4+4], pagestore.NullAddr)
	}

	slots, err := slottedpage.New(slotBuf(buf))
	if err != nil {
		return nil, err
	}

	return &Page{buf: buf, slots: slots}, nil
}

// Load wraps a buffer previously initialized by New without resetting it.
func Load(buf []byte) (*Page, error) {
	if len(buf) < pagestore.PageSize {
		return nil, ErrBufferTooSmall
	}

	slots, err := slottedpage.Load(slotBuf(buf))
	if err != nil {
		return nil, err
	}

	return &Page{buf: buf, slots: slots}, nil
}

func childTable(buf []byte) []byte {
	return pagestore.Payload(buf)[:childTableSize]
}

func slotBuf(buf []byte) []byte {
	return pagestore.Payload(buf)[childTableSize:]
}

// Child returns the child page address stored under the given leading
// nibble, or pagestore.NullAddr if none.
func (p *Page) Child(nibble byte) uint32 {
	off := int(nibble) * 4
	return binary.LittleEndian.Uint32(childTable(p.buf)[off : off+4])
}

func (p *Page) setChild(nibble byte, addr uint32) {
	off := int(nibble) * 4
	binary.LittleEndian.PutUint32(childTable(p.buf)[off:off+4], addr)
}

// singleNibble returns a length-1 nibble path whose only nibble is n.
func singleNibble(n byte) nibblepath.Path {
	return nibblepath.New([]byte{n << 4}).Take(1)
}

// Set inserts or overwrites the entry for path, starting the recursive
// descent at the page stored at addr. It returns the (possibly new, on
// copy-on-write) address of that page once the write is reflected; the
// caller is responsible for storing the returned address back into whatever
// referenced addr (a parent's child bucket, or the store's trie root).
func Set(batch *pagestore.Batch, addr uint32, path nibblepath.Path, value []byte) (uint32, error) {
	raw, err := batch.GetAt(addr)
	if err != nil {
		return 0, err
	}

	newAddr, newRaw, err := batch.GetWritableCopy(addr, raw)
	if err != nil {
		return 0, err
	}

	page, err := Load(newRaw)
	if err != nil {
		return 0, err
	}

	if err := page.set(batch, path, value); err != nil {
		return 0, err
	}

	return newAddr, nil
}

func (p *Page) set(batch *pagestore.Batch, path nibblepath.Path, value []byte) error {
	if !path.Empty() {
		nibble := path.First()

		if child := p.Child(nibble); child != pagestore.NullAddr {
			newChild, err := Set(batch, child, path.SliceFrom(1), value)
			if err != nil {
				return err
			}

			p.setChild(nibble, newChild)

			return nil
		}
	}

	ok, err := p.slots.TrySet(path, value)
	if err != nil {
		return err
	}

	if ok {
		return nil
	}

	return p.promoteAndRetry(batch, path, value)
}

// promoteAndRetry implements spec.md §4.4 step 5: move every inline entry
// under the nibble with the most entries into a freshly allocated child
// page, then retry the insertion that originally failed.
func (p *Page) promoteAndRetry(batch *pagestore.Batch, path nibblepath.Path, value []byte) error {
	entries := p.slots.EnumerateAll()

	var counts [childCount]int

	hasMovable := false

	for _, e := range entries {
		if e.Key.Empty() {
			continue
		}

		counts[e.Key.First()]++
		hasMovable = true
	}

	if !hasMovable {
		return ErrPageFull
	}

	biggest := byte(0)
	for n := byte(1); n < childCount; n++ {
		if counts[n] > counts[biggest] {
			biggest = n
		}
	}

	childAddr, childBuf, err := batch.GetNewDirtyPage()
	if err != nil {
		return err
	}

	child, err := New(childBuf)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.Key.Empty() || e.Key.First() != biggest {
			continue
		}

		moved, err := child.slots.TrySet(e.Key.SliceFrom(1), e.Value)
		if err != nil {
			return err
		}

		if !moved {
			return fmt.Errorf("triepage: %w: entry did not fit on a fresh child page", ErrValueTooLarge)
		}
	}

	p.slots.DeleteByPrefix(singleNibble(biggest))
	p.setChild(biggest, childAddr)

	return p.set(batch, path, value)
}

// Reader is the read-only subset of *pagestore.Batch and
// *pagestore.ReadOnlyBatch that TryGet needs, so lookups can run against
// either a live writer batch or a leased snapshot.
type Reader interface {
	GetAt(addr uint32) ([]byte, error)
}

// TryGet looks up path starting the descent at the page stored at addr.
func TryGet(r Reader, addr uint32, path nibblepath.Path) ([]byte, bool, error) {
	raw, err := r.GetAt(addr)
	if err != nil {
		return nil, false, err
	}

	page, err := Load(raw)
	if err != nil {
		return nil, false, err
	}

	return page.tryGet(r, path)
}

func (p *Page) tryGet(r Reader, path nibblepath.Path) ([]byte, bool, error) {
	if !path.Empty() {
		nibble := path.First()

		if child := p.Child(nibble); child != pagestore.NullAddr {
			return TryGet(r, child, path.SliceFrom(1))
		}
	}

	value, ok := p.slots.TryGet(path)

	return value, ok, nil
}

// Delete removes path's entry, descending into a child page if the leading
// nibble has been promoted away from this node's inline array. It reports
// whether the key was present.
func Delete(batch *pagestore.Batch, addr uint32, path nibblepath.Path) (uint32, bool, error) {
	raw, err := batch.GetAt(addr)
	if err != nil {
		return 0, false, err
	}

	newAddr, newRaw, err := batch.GetWritableCopy(addr, raw)
	if err != nil {
		return 0, false, err
	}

	page, err := Load(newRaw)
	if err != nil {
		return 0, false, err
	}

	ok, err := page.delete(batch, path)
	if err != nil {
		return 0, false, err
	}

	return newAddr, ok, nil
}

func (p *Page) delete(batch *pagestore.Batch, path nibblepath.Path) (bool, error) {
	if !path.Empty() {
		nibble := path.First()

		if child := p.Child(nibble); child != pagestore.NullAddr {
			newChild, ok, err := Delete(batch, child, path.SliceFrom(1))
			if err != nil {
				return false, err
			}

			p.setChild(nibble, newChild)

			return ok, nil
		}
	}

	return p.slots.Delete(path), nil
}
