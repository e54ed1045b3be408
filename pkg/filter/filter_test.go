package filter_test

import (
	"encoding/binary"
	"testing"

	"github.com/paprikadb/paprika/pkg/filter"
	"github.com/stretchr/testify/require"
)

func hashOf(s string) uint64 {
	var h uint64 = 1469598103934665603

	for _, c := range []byte(s) {
		h ^= uint64(c)
		h *= 1099511628211
	}

	return h
}

func TestMutableBloom_MonotonicPositive(t *testing.T) {
	b, err := filter.NewMutableBloom(100)
	require.NoError(t, err)

	h := hashOf("account-1")
	b.Add(h)

	require.True(t, b.MayContain(h), "a key that was added must always test as possibly-present")
}

func TestXOR8_NoFalseNegatives(t *testing.T) {
	keys := make([]uint64, 0, 200)
	for i := range 200 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		keys = append(keys, hashOf(string(buf[:])))
	}

	f, err := filter.BuildXOR8(keys)
	require.NoError(t, err)

	for _, k := range keys {
		require.True(t, f.Contains(k), "xor8 filter must never have false negatives")
	}
}

func TestXOR8_EmptySet(t *testing.T) {
	f, err := filter.BuildXOR8(nil)
	require.NoError(t, err)
	require.False(t, f.Contains(hashOf("anything")))
}
