package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapRecord is an executed swap as kept in the store. Records are
// gob-encoded; grids and orders are stored as JSON so they stay readable
// with pebble's tooling.
type SwapRecord struct {
	ID            string
	GridID        common.Hash
	ZeroForOne    bool
	ExactInput    bool
	AmountIn      *big.Int
	AmountOut     *big.Int
	PriceAfter    *big.Int
	BoundaryAfter int32
	Timestamp     int64 // unix nanoseconds
}

func (r *SwapRecord) key() []byte {
	return swapKey(r.GridID, r.Timestamp, r.ID)
}

func (r *SwapRecord) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode swap %s: %w", r.ID, err)
	}
	return buf.Bytes(), nil
}

func decodeSwapRecord(b []byte) (*SwapRecord, error) {
	var r SwapRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode swap: %w", err)
	}
	return &r, nil
}
