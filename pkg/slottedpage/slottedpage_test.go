package slottedpage_test

import (
	"fmt"
	"testing"

	"github.com/paprikadb/paprika/pkg/nibblepath"
	"github.com/paprikadb/paprika/pkg/slottedpage"
	"github.com/stretchr/testify/require"
)

func newPage(t *testing.T, size int) *slottedpage.Page {
	t.Helper()

	page, err := slottedpage.New(make([]byte, size))
	require.NoError(t, err)

	return page
}

func keyOf(raw ...byte) nibblepath.Path {
	return nibblepath.New(raw)
}

func TestPage_SetGetRoundTrip(t *testing.T) {
	page := newPage(t, 256)

	cases := []struct {
		key   nibblepath.Path
		value []byte
	}{
		{keyOf(), []byte("root")},
		{keyOf(0xAB).Take(1), []byte("one-nibble")},
		{keyOf(0xAB), []byte("two-nibbles")},
		{nibblepath.New([]byte{0x12, 0x30}).Take(3), []byte("three-nibbles")},
		{keyOf(0x12, 0x34), []byte("four-nibbles")},
		{keyOf(0x12, 0x34, 0x56), []byte("six-nibbles-long-value-here")},
		{keyOf(0x12, 0x34, 0x56).SliceFrom(1), []byte("odd-aligned-trimmed-key")},
	}

	for _, c := range cases {
		ok, err := page.TrySet(c.key, c.value)
		require.NoError(t, err)
		require.True(t, ok)
	}

	for _, c := range cases {
		got, ok := page.TryGet(c.key)
		require.True(t, ok, "key %v missing", c.key)
		require.Equal(t, c.value, got)
	}

	require.Equal(t, len(cases), page.Len())
}

func TestPage_Overwrite_SameAndDifferentLength(t *testing.T) {
	page := newPage(t, 256)
	key := keyOf(0x12, 0x34, 0x56)

	ok, err := page.TrySet(key, []byte("abc"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = page.TrySet(key, []byte("xyz"))
	require.NoError(t, err)
	require.True(t, ok)

	got, found := page.TryGet(key)
	require.True(t, found)
	require.Equal(t, []byte("xyz"), got)
	require.Equal(t, 1, page.Len())

	ok, err = page.TrySet(key, []byte("a much longer replacement value"))
	require.NoError(t, err)
	require.True(t, ok)

	got, found = page.TryGet(key)
	require.True(t, found)
	require.Equal(t, []byte("a much longer replacement value"), got)
	require.Equal(t, 1, page.Len())
}

func TestPage_DeleteThenAbsent(t *testing.T) {
	page := newPage(t, 256)
	key := keyOf(0xAB, 0xCD)

	ok, err := page.TrySet(key, []byte("v"))
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, page.Delete(key))
	require.False(t, page.Delete(key))

	_, found := page.TryGet(key)
	require.False(t, found)
	require.Equal(t, 0, page.Len())
}

func TestPage_EnumerateNibbleAndPrefix(t *testing.T) {
	page := newPage(t, 512)

	entries := []nibblepath.Path{
		keyOf(0x1A, 0xBC),
		keyOf(0x1D, 0xEF),
		keyOf(0x2A, 0xBC),
	}

	for i, e := range entries {
		ok, err := page.TrySet(e, []byte{byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	group1 := page.EnumerateNibble(0x1)
	require.Len(t, group1, 2)

	removed := page.DeleteByPrefix(keyOf(0x1A))
	require.Equal(t, 1, removed)
	require.Equal(t, 2, page.Len())

	removed = page.DeleteByPrefix(keyOf())
	require.Equal(t, 2, removed)
	require.Equal(t, 0, page.Len())
}

func TestPage_Defragment_PreservesMapping(t *testing.T) {
	page := newPage(t, 512)

	want := map[string][]byte{}

	for i := range 20 {
		key := keyOf(byte(i), byte(i*7%256), byte(i*13%256))
		value := []byte(fmt.Sprintf("value-%d", i))

		ok, err := page.TrySet(key, value)
		require.NoError(t, err)
		require.True(t, ok)

		want[string(key.Materialize())] = value
	}

	for i := 0; i < 20; i += 2 {
		key := keyOf(byte(i), byte(i*7%256), byte(i*13%256))
		page.Delete(key)
		delete(want, string(key.Materialize()))
	}

	before := page.EnumerateAll()
	page.Defragment()
	after := page.EnumerateAll()

	require.Equal(t, len(before), len(after))

	for i := range before {
		require.True(t, before[i].Key.Equal(after[i].Key))
		require.Equal(t, before[i].Value, after[i].Value)
	}

	for _, e := range after {
		wantValue, ok := want[string(e.Key.Materialize())]
		require.True(t, ok)
		require.Equal(t, wantValue, e.Value)
	}
}

func TestPage_FillUntilFull_DeleteHalf_RetrySucceeds(t *testing.T) {
	page := newPage(t, 160)

	inserted := 0

	for i := 0; ; i++ {
		key := keyOf(byte(i), byte(i>>8))
		ok, err := page.TrySet(key, []byte("xxxxxxxx"))
		require.NoError(t, err)

		if !ok {
			break
		}

		inserted++
	}

	require.Greater(t, inserted, 1)

	for i := 0; i < inserted; i += 2 {
		key := keyOf(byte(i), byte(i>>8))
		page.Delete(key)
	}

	key := keyOf(byte(inserted), byte(inserted>>8))
	ok, err := page.TrySet(key, []byte("xxxxxxxx"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLoad_RejectsCorruptHeader(t *testing.T) {
	buf := make([]byte, 64)
	buf[0] = 0xFF // low claims far more slot bytes than the buffer holds

	_, err := slottedpage.Load(buf)
	require.ErrorIs(t, err, slottedpage.ErrCorrupt)
}

func TestTrySet_KeyTooLong(t *testing.T) {
	page := newPage(t, 256)

	raw := make([]byte, 40)
	_, err := page.TrySet(nibblepath.New(raw), []byte("v"))
	require.ErrorIs(t, err, slottedpage.ErrKeyTooLong)
}
