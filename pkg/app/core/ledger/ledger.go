// Package ledger declares what the quoting core needs from the component that
// owns grid state: pool lookup, a non-mutating simulated swap and read access
// to the per-side bitmaps.
package ledger

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/gridquote/pkg/app/core/bitmap"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrUnsupportedProtocol   = errors.New("unsupported protocol")
)

// Slot0 is the current price state of a pool.
type Slot0 struct {
	PriceX96 *big.Int
	Boundary int32
}

// SwapParams describes one single-pool swap. Amount is the input when
// ExactInput is set and the desired output otherwise. A nil PriceLimit lets
// the swap walk until Amount is satisfied.
type SwapParams struct {
	ZeroForOne bool
	Amount     *big.Int
	ExactInput bool
	PriceLimit *big.Int
}

type SwapResult struct {
	AmountIn  *big.Int
	AmountOut *big.Int

	PriceBefore         *big.Int
	BoundaryBefore      int32
	BoundaryLowerBefore int32

	PriceAfter         *big.Int
	BoundaryAfter      int32
	BoundaryLowerAfter int32

	// Consumed is the pre-swap index of the side the swap fills against,
	// read under the same lock as the walk. Only SimulateSwap sets it.
	Consumed bitmap.Reader
}

type Pool interface {
	Token0() common.Address
	Token1() common.Address
	Resolution() int32
	Slot0() Slot0
	// SimulateSwap must not change observable pool state.
	SimulateSwap(p SwapParams) (*SwapResult, error)
	// Bitmap returns the index of orders selling token0 (zero) or token1.
	Bitmap(zero bool) bitmap.Reader
}

type Ledger interface {
	Pool(protocol uint8, tokenA, tokenB common.Address, resolution int32) (Pool, error)
}

// SortTokens orders a pair so that token0 < token1.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) < 0 {
		return a, b
	}
	return b, a
}
