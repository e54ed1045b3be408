package triepage

import (
	"github.com/paprikadb/paprika/pkg/nibblepath"
	"github.com/paprikadb/paprika/pkg/pagestore"
)

// DeleteSubtree removes every entry whose path has the given prefix,
// descending into child pages as needed and recursively clearing any child
// page reached once the prefix is fully consumed. It implements the
// "destroy" step of spec.md §4.7: an account's own entry and everything
// nested under its path (its storage cells) disappear from the persisted
// trie in one pass, not just the entries this block happened to touch.
func DeleteSubtree(batch *pagestore.Batch, addr uint32, prefix nibblepath.Path) (uint32, error) {
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

	if err := page.deleteSubtree(batch, prefix); err != nil {
		return 0, err
	}

	return newAddr, nil
}

func (p *Page) deleteSubtree(batch *pagestore.Batch, prefix nibblepath.Path) error {
	if prefix.Empty() {
		p.slots.DeleteByPrefix(prefix)

		for n := byte(0); n < childCount; n++ {
			child := p.Child(n)
			if child == pagestore.NullAddr {
				continue
			}

			newChild, err := DeleteSubtree(batch, child, nibblepath.Path{})
			if err != nil {
				return err
			}

			p.setChild(n, newChild)
		}

		return nil
	}

	nibble := prefix.First()

	if child := p.Child(nibble); child != pagestore.NullAddr {
		newChild, err := DeleteSubtree(batch, child, prefix.SliceFrom(1))
		if err != nil {
			return err
		}

		p.setChild(nibble, newChild)

		return nil
	}

	p.slots.DeleteByPrefix(prefix)

	return nil
}
