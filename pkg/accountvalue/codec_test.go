package accountvalue_test

import (
	"math/big"
	"testing"

	"github.com/paprikadb/paprika/pkg/accountvalue"
	"github.com/stretchr/testify/require"
)

func u256(s string) [32]byte {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad number: " + s)
	}

	var out [32]byte

	n.FillBytes(out[:])

	return out
}

func TestDenseCodec_RoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		balance [32]byte
		nonce   [32]byte
	}{
		{"zero", [32]byte{}, [32]byte{}},
		{"small", u256("10"), u256("1")},
		{"dense-max", u256("1329227995784915872903807060280344575"), u256("72057594037927935")},
		{"large-balance", func() [32]byte {
			var b [32]byte
			for i := range b {
				b[i] = 0xFF
			}
			return b
		}(), u256("1")},
	}

	var codec accountvalue.DenseCodec

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := codec.Encode(tc.balance, tc.nonce)
			require.NoError(t, err)
			require.LessOrEqual(t, len(enc), accountvalue.MaxEncodedLen)

			balance, nonce, err := codec.Decode(enc)
			require.NoError(t, err)
			require.Equal(t, tc.balance, balance)
			require.Equal(t, tc.nonce, nonce)
		})
	}
}

func TestDenseCodec_UsesDenseFormWhenSmall(t *testing.T) {
	var codec accountvalue.DenseCodec

	enc, err := codec.Encode(u256("5"), u256("1"))
	require.NoError(t, err)
	require.NotZero(t, enc[0]&0x80, "small values should use the dense (1-byte preamble) form")
}

func TestDenseCodec_UsesLargeFormWhenBalanceOverflowsDense(t *testing.T) {
	var codec accountvalue.DenseCodec

	var big32 [32]byte
	for i := range big32 {
		big32[i] = 0xFF
	}

	enc, err := codec.Encode(big32, u256("1"))
	require.NoError(t, err)
	require.Zero(t, enc[0]&0x80, "balance exceeding 2^120-1 must force the large form")
}

func TestDenseCodec_Decode_Truncated(t *testing.T) {
	var codec accountvalue.DenseCodec

	_, _, err := codec.Decode(nil)
	require.ErrorIs(t, err, accountvalue.ErrTruncated)

	_, _, err = codec.Decode([]byte{0x81}) // claims 1 balance byte, none follow
	require.ErrorIs(t, err, accountvalue.ErrTruncated)
}
