package triepage

import "github.com/paprikadb/paprika/pkg/nibblepath"

// Kind discriminates what a Key's path addresses (spec.md §3).
type Kind uint8

const (
	KindAccount Kind = iota
	KindStorageCell
	KindMerkle
	KindDeleted
)

// Key identifies an entry in the trie: a main path, a type tag, and (for
// storage cells) a secondary path appended after the account's own path.
// Two keys compare equal iff their (Kind, Path, StoragePath) all match.
type Key struct {
	Kind        Kind
	Path        nibblepath.Path
	StoragePath nibblepath.Path
}

// TriePath returns the combined nibble path this key is stored under in the
// trie: the account path alone, or the account path followed by the storage
// path for a storage-cell key.
func (k Key) TriePath() (nibblepath.Path, error) {
	if k.StoragePath.Empty() {
		return k.Path, nil
	}

	return nibblepath.Concat(k.Path, k.StoragePath)
}

// Equal reports whether k and o address the same entry.
func (k Key) Equal(o Key) bool {
	return k.Kind == o.Kind && k.Path.Equal(o.Path) && k.StoragePath.Equal(o.StoragePath)
}

// Encode serializes the key per spec.md §6.3: a type byte, the main nibble
// path, then the storage nibble path (empty when the key has none).
func (k Key) Encode() []byte {
	out := make([]byte, 0, 2+len(k.Path.Encode())+len(k.StoragePath.Encode()))
	out = append(out, byte(k.Kind))
	out = append(out, k.Path.Encode()...)
	out = append(out, k.StoragePath.Encode()...)

	return out
}

// DecodeKey parses a key previously produced by Encode, returning the key
// and the number of bytes consumed from buf.
func DecodeKey(buf []byte) (Key, int, error) {
	if len(buf) < 1 {
		return Key{}, 0, nibblepath.ErrTruncated
	}

	kind := Kind(buf[0])
	pos := 1

	path, n, err := nibblepath.Decode(buf[pos:])
	if err != nil {
		return Key{}, 0, err
	}

	pos += n

	storagePath, n, err := nibblepath.Decode(buf[pos:])
	if err != nil {
		return Key{}, 0, err
	}

	pos += n

	return Key{Kind: kind, Path: path, StoragePath: storagePath}, pos, nil
}
