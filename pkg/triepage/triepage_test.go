package triepage_test

import (
	"testing"

	"github.com/paprikadb/paprika/pkg/nibblepath"
	"github.com/paprikadb/paprika/pkg/pagestore"
	"github.com/paprikadb/paprika/pkg/triepage"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, numPages uint32) *pagestore.Store {
	t.Helper()

	s, err := pagestore.OpenAnonymous(pagestore.Options{HistoryDepth: 3, NumPages: numPages})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

// pathN builds an n-nibble path whose leading nibble is i%16, its second
// nibble is (i/16)%16, and so on — distinct i in a small range yield
// distinct paths evenly spread across the 16 first-nibble buckets.
func pathN(i, nibbles int) nibblepath.Path {
	data := make([]byte, (nibbles+1)/2)

	v := i
	for n := range nibbles {
		nib := byte(v % 16)
		v /= 16

		if n%2 == 0 {
			data[n/2] |= nib << 4
		} else {
			data[n/2] |= nib
		}
	}

	return nibblepath.New(data).Take(nibbles)
}

func newRoot(t *testing.T, b *pagestore.Batch) uint32 {
	t.Helper()

	addr, buf, err := b.GetNewDirtyPage()
	require.NoError(t, err)

	_, err = triepage.New(buf)
	require.NoError(t, err)

	return addr
}

func TestTriePage_SetGetRoundTrip(t *testing.T) {
	s := openStore(t, 256)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	root := newRoot(t, b)

	cases := []struct {
		path  nibblepath.Path
		value []byte
	}{
		{pathN(0, 0), []byte("empty-path")},
		{pathN(1, 3), []byte("short-3")},
		{pathN(2, 4), []byte("short-4")},
		{pathN(3, 9), []byte("trimmed-9")},
		{pathN(4, 63), []byte("near-max-63")},
	}

	for _, c := range cases {
		root, err = triepage.Set(b, root, c.path, c.value)
		require.NoError(t, err)
	}

	for _, c := range cases {
		got, ok, err := triepage.TryGet(b, root, c.path)
		require.NoError(t, err)
		require.True(t, ok, "path len %d", c.path.Len())
		require.Equal(t, c.value, got)
	}

	require.NoError(t, b.Commit(pagestore.DangerNoFlush))
}

func TestTriePage_Overwrite(t *testing.T) {
	s := openStore(t, 256)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	root := newRoot(t, b)
	key := pathN(5, 6)

	root, err = triepage.Set(b, root, key, []byte("v1"))
	require.NoError(t, err)

	root, err = triepage.Set(b, root, key, []byte("v2-longer"))
	require.NoError(t, err)

	got, ok, err := triepage.TryGet(b, root, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2-longer"), got)

	require.NoError(t, b.Commit(pagestore.DangerNoFlush))
}

func TestTriePage_Delete(t *testing.T) {
	s := openStore(t, 256)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	root := newRoot(t, b)
	key := pathN(6, 5)

	root, err = triepage.Set(b, root, key, []byte("gone-soon"))
	require.NoError(t, err)

	root, present, err := triepage.Delete(b, root, key)
	require.NoError(t, err)
	require.True(t, present)

	_, ok, err := triepage.TryGet(b, root, key)
	require.NoError(t, err)
	require.False(t, ok)

	_, present, err = triepage.Delete(b, root, key)
	require.NoError(t, err)
	require.False(t, present)

	require.NoError(t, b.Commit(pagestore.DangerNoFlush))
}

func TestTriePage_OverflowPromotesIntoChildPages(t *testing.T) {
	s := openStore(t, 4096)

	b, err := s.BeginNextBatch()
	require.NoError(t, err)

	root := newRoot(t, b)

	const n = 400

	value := make([]byte, 48)

	for i := range n {
		path := pathN(i, 4)
		v := append([]byte(nil), value...)
		v[0] = byte(i)
		v[1] = byte(i >> 8)

		root, err = triepage.Set(b, root, path, v)
		require.NoError(t, err, "set %d", i)
	}

	for i := range n {
		path := pathN(i, 4)

		got, ok, err := triepage.TryGet(b, root, path)
		require.NoError(t, err)
		require.True(t, ok, "get %d", i)
		require.Equal(t, byte(i), got[0])
		require.Equal(t, byte(i>>8), got[1])
	}

	require.NoError(t, b.Commit(pagestore.DangerNoFlush))
}

func TestTriePage_CopyOnWriteAcrossBatches(t *testing.T) {
	s := openStore(t, 256)

	b1, err := s.BeginNextBatch()
	require.NoError(t, err)

	root := newRoot(t, b1)

	key := pathN(7, 8)
	root, err = triepage.Set(b1, root, key, []byte("gen-1"))
	require.NoError(t, err)

	require.NoError(t, b1.Commit(pagestore.DangerNoFlush))

	b2, err := s.BeginNextBatch()
	require.NoError(t, err)

	newRootAddr, err := triepage.Set(b2, root, key, []byte("gen-2"))
	require.NoError(t, err)
	require.NotEqual(t, root, newRootAddr, "copy-on-write must allocate a new page for a foreign-batch page")

	got, ok, err := triepage.TryGet(b2, newRootAddr, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("gen-2"), got)

	require.NoError(t, b2.Commit(pagestore.DangerNoFlush))
}

func TestTriePage_Key_EncodeDecodeRoundTrip(t *testing.T) {
	k := triepage.Key{
		Kind:        triepage.KindStorageCell,
		Path:        pathN(1, 64),
		StoragePath: pathN(2, 64),
	}

	buf := k.Encode()

	decoded, n, err := triepage.DecodeKey(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.True(t, k.Equal(decoded))
}

func TestTriePage_Key_TriePathConcatenatesStoragePath(t *testing.T) {
	k := triepage.Key{Kind: triepage.KindStorageCell, Path: pathN(1, 4), StoragePath: pathN(2, 4)}

	combined, err := k.TriePath()
	require.NoError(t, err)
	require.Equal(t, 8, combined.Len())

	accountOnly := triepage.Key{Kind: triepage.KindAccount, Path: pathN(1, 64)}

	combined2, err := accountOnly.TriePath()
	require.NoError(t, err)
	require.Equal(t, 64, combined2.Len())
	require.True(t, combined2.Equal(accountOnly.Path))
}

func TestTriePage_Load_RejectsUndersizedBuffer(t *testing.T) {
	_, err := triepage.Load(make([]byte, 10))
	require.ErrorIs(t, err, triepage.ErrBufferTooSmall)

	_, err = triepage.New(make([]byte, 10))
	require.ErrorIs(t, err, triepage.ErrBufferTooSmall)
}
