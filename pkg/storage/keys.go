package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for Pebble storage:
//
//   grid:<gridID>                    → grid header (state without orders)
//   ord:<gridID>:<orderID>           → maker order
//   swap:<gridID>:<timestamp>:<id>   → executed swap
//   nonce:<owner>                    → last accepted signing nonce
//
// Numeric components are zero-padded (20 digits) so keys sort numerically.

const (
	prefixGrid  = "grid:"
	prefixOrder = "ord:"
	prefixSwap  = "swap:"
	prefixNonce = "nonce:"
)

// gridKey returns the key for a grid header
// Format: "grid:{gridID}"
func gridKey(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixGrid, id.Hex()))
}

func gridPrefix() []byte {
	return []byte(prefixGrid)
}

// orderKey returns the key for a maker order
// Format: "ord:{gridID}:{orderID}"
func orderKey(id common.Hash, orderID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOrder, id.Hex(), orderID))
}

// orderPrefix returns the prefix for all orders of a grid
func orderPrefix(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, id.Hex()))
}

// swapKey returns the key for an executed swap
// Format: "swap:{gridID}:{timestamp}:{swapID}"
func swapKey(id common.Hash, timestamp int64, swapID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixSwap, id.Hex(), timestamp, swapID))
}

func swapPrefix(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixSwap, id.Hex()))
}

// nonceKey returns the key for an owner's last nonce
// Format: "nonce:{owner}"
func nonceKey(owner common.Address) []byte {
	return []byte(prefixNonce + owner.Hex())
}

func noncePrefix() []byte {
	return []byte(prefixNonce)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
