package boundary

import (
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"
)

// floatPrec is the working precision for ratio products. 20 squarings of
// 1.0001 lose far less than 64 bits, leaving well over the 160 bits a price needs.
const floatPrec = 320

const defaultCacheSize = 4096

var (
	// Q96 is 2^96, the price at boundary 0.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	// powers[i] = 1.0001^(2^i)
	powers [20]*big.Float

	MinRatio *big.Int
	MaxRatio *big.Int

	priceCache *lru.Cache[int32, *big.Int]
)

func init() {
	base, _, err := big.ParseFloat("1.0001", 10, floatPrec, big.ToNearestEven)
	if err != nil {
		panic(fmt.Errorf("parse base ratio: %w", err))
	}
	powers[0] = base
	for i := 1; i < len(powers); i++ {
		powers[i] = new(big.Float).SetPrec(floatPrec).Mul(powers[i-1], powers[i-1])
	}

	priceCache, err = lru.New[int32, *big.Int](defaultCacheSize)
	if err != nil {
		panic(err)
	}

	MinRatio = computePrice(MinBoundary)
	MaxRatio = computePrice(MaxBoundary)
}

// ResizeCache changes the number of memoized boundary prices.
func ResizeCache(size int) {
	if size <= 0 {
		return
	}
	priceCache.Resize(size)
}

// PriceAtBoundary returns floor(1.0001^b * 2^96).
func PriceAtBoundary(b int32) (*big.Int, error) {
	if err := CheckRange(b); err != nil {
		return nil, err
	}
	if p, ok := priceCache.Get(b); ok {
		return new(big.Int).Set(p), nil
	}
	p := computePrice(b)
	priceCache.Add(b, p)
	return new(big.Int).Set(p), nil
}

// MustPriceAtBoundary is PriceAtBoundary for boundaries already range-checked.
func MustPriceAtBoundary(b int32) *big.Int {
	p, err := PriceAtBoundary(b)
	if err != nil {
		panic(err)
	}
	return p
}

func computePrice(b int32) *big.Int {
	abs := b
	if abs < 0 {
		abs = -abs
	}

	ratio := new(big.Float).SetPrec(floatPrec).SetInt64(1)
	for i := 0; i < len(powers); i++ {
		if abs&(1<<i) != 0 {
			ratio.Mul(ratio, powers[i])
		}
	}

	q96 := new(big.Float).SetPrec(floatPrec).SetInt(Q96)
	var scaled *big.Float
	if b >= 0 {
		scaled = new(big.Float).SetPrec(floatPrec).Mul(ratio, q96)
	} else {
		scaled = new(big.Float).SetPrec(floatPrec).Quo(q96, ratio)
	}

	// prices are positive, so truncation is floor
	out, _ := scaled.Int(nil)
	return out
}

// BoundaryAtPrice returns the largest boundary whose price does not exceed p.
func BoundaryAtPrice(p *big.Int) (int32, error) {
	if p == nil || p.Cmp(MinRatio) < 0 || p.Cmp(MaxRatio) > 0 {
		return 0, fmt.Errorf("%w: price %v", ErrOutOfRange, p)
	}

	// invariant: price(low) <= p < price(high+1)
	low, high := MinBoundary, MaxBoundary
	for low < high {
		mid := low + (high-low+1)/2
		pm, _ := PriceAtBoundary(mid)
		if pm.Cmp(p) <= 0 {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low, nil
}

// BoundaryLowerAtPrice is BoundaryLower(BoundaryAtPrice(p), resolution).
func BoundaryLowerAtPrice(p *big.Int, resolution int32) (int32, error) {
	b, err := BoundaryAtPrice(p)
	if err != nil {
		return 0, err
	}
	return BoundaryLower(b, resolution), nil
}
