package chainrpc

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDelegatedTo(t *testing.T) {
	executor := "0x7FBD9A3Bb3Cc6C1563dC0B5B1Fd972f99F485a22"
	code := "0xef01007fbd9a3bb3cc6c1563dc0b5b1fd972f99f485a22"

	assert.True(t, IsDelegatedTo(code, executor))
	assert.False(t, IsDelegatedTo("0x", executor))
	assert.False(t, IsDelegatedTo("0x6080604052", executor))
	// Delegated, but to a different contract.
	assert.False(t, IsDelegatedTo("0xef0100000000000000000000000000000000000001", executor))
}

func TestSelector(t *testing.T) {
	// Well-known selector, e.g. transfer(address,uint256) = 0xa9059cbb.
	assert.Equal(t, "a9059cbb", hex.EncodeToString(Selector("transfer(address,uint256)")))
}

func TestEncodeNonceCall(t *testing.T) {
	data, err := EncodeNonceCall("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(data, "0x"))
	// 4-byte selector + one 32-byte word.
	assert.Len(t, data, 2+8+64)
	assert.True(t, strings.HasSuffix(data, "1111111111111111111111111111111111111111"))
}

func TestEncodeExecuteBatch_Layout(t *testing.T) {
	calls := []BatchCall{
		{To: "0x2222222222222222222222222222222222222222", Value: big.NewInt(1), Data: []byte{0xde, 0xad}},
		{To: "0x3333333333333333333333333333333333333333", Value: nil, Data: nil},
	}
	sig := make([]byte, 65)

	data, err := EncodeExecuteBatch(calls, 7, sig)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, "0x"))

	raw, err := hex.DecodeString(data[2:])
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 4+3*32)

	args := raw[4:]
	word := func(i int) *big.Int { return new(big.Int).SetBytes(args[i*32 : (i+1)*32]) }

	// Head: offset(calls)=0x60, nonce=7, offset(signature).
	assert.EqualValues(t, 0x60, word(0).Int64())
	assert.EqualValues(t, 7, word(1).Int64())

	sigOffset := int(word(2).Int64())
	require.Less(t, sigOffset+32, len(args))
	sigLen := new(big.Int).SetBytes(args[sigOffset : sigOffset+32])
	assert.EqualValues(t, 65, sigLen.Int64())

	// Array length sits at the calls offset.
	assert.EqualValues(t, 2, word(3).Int64())

	// Whole encoding is word-aligned.
	assert.Zero(t, len(args)%32)
}

func TestEncodeExecuteBatch_BadAddress(t *testing.T) {
	_, err := EncodeExecuteBatch([]BatchCall{{To: "0x123"}}, 0, nil)
	assert.Error(t, err)
}

func TestParseHexUint(t *testing.T) {
	v, err := parseHexUint("0x1a")
	require.NoError(t, err)
	assert.EqualValues(t, 26, v)

	_, err = parseHexUint("0xzz")
	assert.Error(t, err)
}
