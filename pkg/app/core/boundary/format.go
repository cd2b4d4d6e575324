package boundary

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const displayPlaces = 18

var q96Decimal = decimal.NewFromBigInt(Q96, 0)

// PriceToDecimal renders a Q64.96 price as token1 per token0.
func PriceToDecimal(priceX96 *big.Int) decimal.Decimal {
	return FormatPrice(priceX96, displayPlaces)
}

// FormatPrice is PriceToDecimal rounded to the given number of places.
func FormatPrice(priceX96 *big.Int, places int32) decimal.Decimal {
	if priceX96 == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(priceX96, 0).DivRound(q96Decimal, places)
}

// DecimalToPrice converts a human price back to Q64.96, rounding down.
func DecimalToPrice(d decimal.Decimal) *big.Int {
	return d.Mul(q96Decimal).Floor().BigInt()
}
