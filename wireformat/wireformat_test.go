package wireformat_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nipee/mls/wireformat"
)

type sample struct {
	A uint16
	B []byte `tls:"head=2"`
}

func TestRoundTripStruct(t *testing.T) {
	in := sample{A: 0xbeef, B: []byte("hello")}
	enc, err := wireformat.Marshal(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, wireformat.Unmarshal(enc, &out))
	require.Equal(t, in, out)
}

func TestTrailingGarbageRejected(t *testing.T) {
	in := sample{A: 1, B: []byte("x")}
	enc, err := wireformat.Marshal(in)
	require.NoError(t, err)

	var out sample
	err = wireformat.Unmarshal(append(enc, 0xff), &out)
	require.ErrorIs(t, err, wireformat.ErrMalformed)
}

func TestTruncationRejected(t *testing.T) {
	in := sample{A: 1, B: []byte("hello world")}
	enc, err := wireformat.Marshal(in)
	require.NoError(t, err)

	var out sample
	err = wireformat.Unmarshal(enc[:len(enc)-2], &out)
	require.Error(t, err)
}

func TestVarBytesPrimitives(t *testing.T) {
	w := wireformat.NewWriter()
	require.NoError(t, w.VarBytes(wireformat.Prefix8, []byte("abc")))
	w.Uint32(0xdeadbeef)

	r := wireformat.NewReader(w.Bytes())
	got, err := r.VarBytes(wireformat.Prefix8)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)

	v, err := r.Uint32()
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeef, v)
	require.True(t, r.AtEnd())
}

func TestVarBytesOverflowRejected(t *testing.T) {
	w := wireformat.NewWriter()
	big := make([]byte, 300)
	err := w.VarBytes(wireformat.Prefix8, big)
	require.ErrorIs(t, err, wireformat.ErrMalformed)
}
