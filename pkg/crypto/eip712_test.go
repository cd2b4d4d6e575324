package crypto

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makerOrder(owner common.Address) *MakerOrderEIP712 {
	return &MakerOrderEIP712{
		GridID:        common.HexToHash("0x1234"),
		Zero:          false,
		BoundaryLower: -5,
		Amount:        big.NewInt(1000),
		Nonce:         big.NewInt(7),
		Owner:         owner,
	}
}

func TestMakerOrderSignVerify(t *testing.T) {
	signer, err := GenerateKey()
	require.NoError(t, err)
	e := NewEIP712Signer(DefaultDomain())

	o := makerOrder(signer.Address())
	sig, err := e.SignMakerOrder(signer, o)
	require.NoError(t, err)

	ok, err := e.VerifyMakerOrder(o, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := *o
	tampered.BoundaryLower = 5
	ok, err = e.VerifyMakerOrder(&tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	other, _ := GenerateKey()
	ok, err = e.VerifyMakerOrder(makerOrder(other.Address()), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMakerOrderDomainSeparation(t *testing.T) {
	signer, _ := GenerateKey()
	o := makerOrder(signer.Address())

	local := NewEIP712Signer(DefaultDomain())
	d := DefaultDomain()
	d.ChainID = big.NewInt(1)
	mainnet := NewEIP712Signer(d)

	h1, err := local.HashMakerOrder(o)
	require.NoError(t, err)
	h2, err := mainnet.HashMakerOrder(o)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 32)
}

func TestMakerOrderMissingFields(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	_, err := e.HashMakerOrder(&MakerOrderEIP712{Amount: big.NewInt(1)})
	assert.Error(t, err)
}

func TestCancelSignVerify(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	c := &CancelEIP712{GridID: common.HexToHash("0xab"), OrderID: 3, Nonce: big.NewInt(1), Owner: signer.Address()}

	sig, err := e.SignCancel(signer, c)
	require.NoError(t, err)
	ok, err := e.VerifyCancel(c, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	c.OrderID = 4
	ok, err = e.VerifyCancel(c, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMakerOrderJSON(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	out, err := e.MakerOrderJSON(makerOrder(common.HexToAddress("0x01")))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "MakerOrder", m["primaryType"])
	assert.True(t, strings.Contains(out, `"boundaryLower": "-5"`))
}

func TestParseAddress(t *testing.T) {
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	addr, err := ParseAddress(checksummed)
	require.NoError(t, err)
	assert.Equal(t, checksummed, addr.Hex())
	assert.Equal(t, checksummed, EIP55(addr.Bytes()))

	_, err = ParseAddress(strings.ToLower(checksummed))
	assert.NoError(t, err)

	_, err = ParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddress("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
