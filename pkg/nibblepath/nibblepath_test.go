package nibblepath_test

import (
	"testing"

	"github.com/paprikadb/paprika/pkg/nibblepath"
	"github.com/stretchr/testify/require"
)

func TestPath_BasicAccess(t *testing.T) {
	data := []byte{0xAB, 0xCD}
	p := nibblepath.New(data)

	require.Equal(t, 4, p.Len())
	require.False(t, p.IsOdd())
	require.Equal(t, byte(0xA), p.First())
	require.Equal(t, byte(0xB), p.At(1))
	require.Equal(t, byte(0xC), p.At(2))
	require.Equal(t, byte(0xD), p.At(3))
}

func TestPath_SliceFrom(t *testing.T) {
	data := []byte{0xAB, 0xCD}
	p := nibblepath.New(data)

	s1 := p.SliceFrom(1)
	require.Equal(t, 3, s1.Len())
	require.True(t, s1.IsOdd())
	require.Equal(t, byte(0xB), s1.First())

	s2 := s1.SliceFrom(3)
	require.True(t, s2.Empty())
}

func TestPath_HasPrefixAndEqual(t *testing.T) {
	a := nibblepath.New([]byte{0xAB, 0xCD})
	b := nibblepath.New([]byte{0xAB})

	require.True(t, a.HasPrefix(b))
	require.False(t, b.HasPrefix(a))
	require.True(t, b.Equal(b.SliceFrom(0)))
	require.Equal(t, 2, a.CommonPrefixLen(nibblepath.New([]byte{0xAB, 0xEF})))
}

func TestPath_EncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x12},
		{0xAB, 0xCD},
		{0x01, 0x23, 0x45, 0x67, 0x89},
	}

	for _, raw := range cases {
		full := nibblepath.New(raw)
		for start := 0; start <= full.Len(); start++ {
			p := full.SliceFrom(start)

			enc := p.Encode()
			got, n, err := nibblepath.Decode(enc)
			require.NoError(t, err)
			require.Equal(t, len(enc), n)
			require.Equal(t, p.Len(), got.Len())
			require.Equal(t, p.IsOdd(), got.IsOdd())
			require.True(t, p.Equal(got), "path mismatch for start=%d raw=%x", start, raw)
		}
	}
}

func TestDecode_Truncated(t *testing.T) {
	_, _, err := nibblepath.Decode(nil)
	require.ErrorIs(t, err, nibblepath.ErrTruncated)

	// preamble claims 4 nibbles (2 bytes) but only 1 byte follows.
	_, _, err = nibblepath.Decode([]byte{4 << 1, 0xAB})
	require.ErrorIs(t, err, nibblepath.ErrTruncated)
}

func TestPath_Materialize_OddTailZeroed(t *testing.T) {
	p := nibblepath.New([]byte{0xAB, 0xCD}).SliceFrom(1).Take(2) // nibbles B, C
	m := p.Materialize()
	require.Equal(t, []byte{0xBC}, m)
}
