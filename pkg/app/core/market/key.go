package market

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
)

// GridKey identifies a grid. Token0 is always the lower address.
type GridKey struct {
	Token0     common.Address `json:"token0"`
	Token1     common.Address `json:"token1"`
	Resolution int32          `json:"resolution"`
}

// NewGridKey sorts the pair.
func NewGridKey(tokenA, tokenB common.Address, resolution int32) GridKey {
	t0, t1 := ledger.SortTokens(tokenA, tokenB)
	return GridKey{Token0: t0, Token1: t1, Resolution: resolution}
}

// ID is keccak256(token0 || token1 || resolution as 4-byte big-endian).
func (k GridKey) ID() common.Hash {
	var res [4]byte
	binary.BigEndian.PutUint32(res[:], uint32(k.Resolution))

	h := sha3.NewLegacyKeccak256()
	h.Write(k.Token0.Bytes())
	h.Write(k.Token1.Bytes())
	h.Write(res[:])
	return common.BytesToHash(h.Sum(nil))
}

func (k GridKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Token0.Hex(), k.Token1.Hex(), k.Resolution)
}
