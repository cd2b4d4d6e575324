package swappath

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddresses = []common.Address{
		common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707"),
		common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"),
		common.HexToAddress("0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9"),
	}
	resolutions = []int32{1, 5}
	protocols   = []uint8{1, 1}
)

func lowerHex(a common.Address) string { return strings.ToLower(a.Hex()[2:]) }

func singleHop(t *testing.T) []byte {
	t.Helper()
	p, err := Encode(tokenAddresses[:2], protocols[:1], resolutions[:1])
	require.NoError(t, err)
	return p
}

func twoHops(t *testing.T) []byte {
	t.Helper()
	p, err := Encode(tokenAddresses, protocols, resolutions)
	require.NoError(t, err)
	return p
}

func TestEncodeSingleHop(t *testing.T) {
	want := "0x" + lowerHex(tokenAddresses[0]) + "01000001" + lowerHex(tokenAddresses[1])
	assert.Equal(t, want, hexutil.Encode(singleHop(t)))
}

func TestDecodeRoundTrip(t *testing.T) {
	hops, err := Decode(twoHops(t))
	require.NoError(t, err)
	require.Len(t, hops, 2)

	tokens, err := Tokens(twoHops(t))
	require.NoError(t, err)
	assert.Equal(t, tokenAddresses, tokens)
	for i, h := range hops {
		assert.Equal(t, resolutions[i], h.Resolution)
		assert.Equal(t, protocols[i], h.Protocol)
	}
}

func TestHasMultipleHops(t *testing.T) {
	if !HasMultipleHops(twoHops(t)) {
		t.Error("HasMultipleHops(two hops) = false, want true")
	}
	if HasMultipleHops(singleHop(t)) {
		t.Error("HasMultipleHops(one hop) = true, want false")
	}
}

func TestDecodeFirstHop(t *testing.T) {
	for name, p := range map[string][]byte{"one hop": singleHop(t), "two hops": twoHops(t)} {
		t.Run(name, func(t *testing.T) {
			in, out, protocol, res, err := DecodeFirstHop(p)
			require.NoError(t, err)
			assert.Equal(t, tokenAddresses[0], in)
			assert.Equal(t, tokenAddresses[1], out)
			assert.Equal(t, uint8(1), protocol)
			assert.Equal(t, int32(1), res)
		})
	}
}

func TestFirstHopPath(t *testing.T) {
	want := singleHop(t)
	for _, p := range [][]byte{singleHop(t), twoHops(t)} {
		got, err := FirstHopPath(p)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, got), "FirstHopPath = %x, want %x", got, want)
	}
}

func TestDropFirstToken(t *testing.T) {
	got, err := DropFirstToken(singleHop(t))
	require.NoError(t, err)
	assert.Equal(t, "0x"+lowerHex(tokenAddresses[1]), hexutil.Encode(got))

	got, err = DropFirstToken(twoHops(t))
	require.NoError(t, err)
	want := "0x" + lowerHex(tokenAddresses[1]) + "01000005" + lowerHex(tokenAddresses[2])
	assert.Equal(t, want, hexutil.Encode(got))
}

func TestDropFirstTokenVisitsEveryHop(t *testing.T) {
	tokens := append(append([]common.Address{}, tokenAddresses...), common.HexToAddress("0x0000000000000000000000000000000000000abc"))
	p, err := Encode(tokens, []uint8{1, 2, 3}, []int32{1, 5, 30})
	require.NoError(t, err)

	var seen []Hop
	for {
		h, err := FirstHop(p)
		require.NoError(t, err)
		seen = append(seen, h)
		if !HasMultipleHops(p) {
			break
		}
		p, err = DropFirstToken(p)
		require.NoError(t, err)
	}

	require.Len(t, seen, 3)
	for i, h := range seen {
		assert.Equal(t, tokens[i], h.TokenIn)
		assert.Equal(t, tokens[i+1], h.TokenOut)
		assert.Equal(t, uint8(i+1), h.Protocol)
	}
	assert.Equal(t, int32(30), seen[2].Resolution)
}

func TestMalformedPath(t *testing.T) {
	good := twoHops(t)
	bad := [][]byte{
		nil,
		good[:20],
		good[:43],
		good[:45],
		good[:len(good)-1],
		append(append([]byte{}, good...), 0x00),
	}
	for _, p := range bad {
		_, _, _, _, err := DecodeFirstHop(p)
		assert.ErrorIs(t, err, ErrMalformedPath, "len %d", len(p))
		_, err = DropFirstToken(p)
		assert.ErrorIs(t, err, ErrMalformedPath)
		_, err = FirstHopPath(p)
		assert.ErrorIs(t, err, ErrMalformedPath)
	}

	_, err := Encode(tokenAddresses, protocols[:1], resolutions)
	assert.ErrorIs(t, err, ErrMalformedPath)
	_, err = Encode(tokenAddresses[:2], protocols[:1], []int32{1 << 24})
	assert.ErrorIs(t, err, ErrMalformedPath)
}

func TestLargeResolutionBigEndian(t *testing.T) {
	p, err := Encode(tokenAddresses[:2], []uint8{7}, []int32{0x123456})
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0x12, 0x34, 0x56}, p[AddrSize:NextOffset])

	_, _, protocol, res, err := DecodeFirstHop(p)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), protocol)
	assert.Equal(t, int32(0x123456), res)
}

func TestReverse(t *testing.T) {
	rev, err := Reverse(twoHops(t))
	require.NoError(t, err)
	tokens, err := Tokens(rev)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{tokenAddresses[2], tokenAddresses[1], tokenAddresses[0]}, tokens)

	hops, err := Decode(rev)
	require.NoError(t, err)
	assert.Equal(t, int32(5), hops[0].Resolution)
	assert.Equal(t, int32(1), hops[1].Resolution)
}
