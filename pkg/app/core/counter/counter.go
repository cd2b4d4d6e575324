// Package counter counts initialized boundaries touched by a price move.
package counter

import (
	"fmt"
	"math/big"

	"github.com/uhyunpark/gridquote/pkg/app/core/bitmap"
	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
)

// Move describes one directional price step on one side of a grid.
// ZeroForOne moves the price down and reads the side-one bitmap;
// otherwise the price moves up against the side-zero bitmap.
type Move struct {
	ZeroForOne          bool
	PriceBefore         *big.Int
	BoundaryBefore      int32
	BoundaryLowerBefore int32
	PriceAfter          *big.Int
	BoundaryAfter       int32
	BoundaryLowerAfter  int32
}

// CountInitializedBoundariesCrossed returns how many initialized boundaries of
// idx lie between the two boundary-lowers of m.
//
// When both lowers coincide the answer is whether that single cell is
// initialized. Otherwise both lowers are inclusive, except that the start
// cell is dropped when the price had already left it in the direction of
// travel, and the end cell is dropped when the price stopped exactly on its
// entry edge without moving into it.
func CountInitializedBoundariesCrossed(idx bitmap.Reader, m Move) (uint32, error) {
	if m.PriceBefore == nil || m.PriceAfter == nil {
		return 0, fmt.Errorf("%w: move without prices", boundary.ErrOutOfRange)
	}
	res := idx.Resolution()
	for _, lower := range []int32{m.BoundaryLowerBefore, m.BoundaryLowerAfter} {
		if err := boundary.CheckRange(lower); err != nil {
			return 0, err
		}
	}

	if m.BoundaryLowerBefore == m.BoundaryLowerAfter {
		ok, err := idx.IsInitialized(m.BoundaryLowerBefore)
		if err != nil {
			return 0, err
		}
		if ok {
			return 1, nil
		}
		return 0, nil
	}

	if err := boundary.CheckAligned(m.BoundaryLowerBefore, res); err != nil {
		return 0, err
	}
	if err := boundary.CheckAligned(m.BoundaryLowerAfter, res); err != nil {
		return 0, err
	}

	start, end := m.BoundaryLowerBefore, m.BoundaryLowerAfter
	if m.ZeroForOne {
		skipStart, err := atOrBelowLower(m.PriceBefore, start)
		if err != nil {
			return 0, err
		}
		skipEnd, err := atOrAboveUpper(m.PriceAfter, end, res)
		if err != nil {
			return 0, err
		}
		if skipStart {
			start -= res
		}
		if skipEnd {
			end += res
		}
		if start < end {
			return 0, nil
		}
		return scan(idx, start, end, false), nil
	}

	skipStart, err := atOrAboveUpper(m.PriceBefore, start, res)
	if err != nil {
		return 0, err
	}
	skipEnd, err := atOrBelowLower(m.PriceAfter, end)
	if err != nil {
		return 0, err
	}
	if skipStart {
		start += res
	}
	if skipEnd {
		end -= res
	}
	if start > end {
		return 0, nil
	}
	return scan(idx, start, end, true), nil
}

// atOrBelowLower reports price <= price(lower).
func atOrBelowLower(price *big.Int, lower int32) (bool, error) {
	p, err := boundary.PriceAtBoundary(lower)
	if err != nil {
		return false, err
	}
	return price.Cmp(p) <= 0, nil
}

// atOrAboveUpper reports price >= price(lower+resolution). A cell whose upper
// edge lies past MaxBoundary has no reachable upper edge.
func atOrAboveUpper(price *big.Int, lower, res int32) (bool, error) {
	upper, ok := boundary.UpperOf(lower, res)
	if !ok {
		return false, nil
	}
	p, err := boundary.PriceAtBoundary(upper)
	if err != nil {
		return false, err
	}
	return price.Cmp(p) >= 0, nil
}

// scan counts set bits from boundary `from` to boundary `to` (both inclusive),
// visiting words in the direction of travel. Words strictly between the two
// edge words are counted whole.
func scan(idx bitmap.Reader, from, to int32, upward bool) uint32 {
	res := idx.Resolution()
	fromWord, fromBit := bitmap.Position(from, res)
	toWord, toBit := bitmap.Position(to, res)

	if fromWord == toWord {
		w := idx.WordAt(fromWord)
		lo, hi := fromBit, toBit
		if !upward {
			lo, hi = toBit, fromBit
		}
		return uint32(bitmap.CountRange(&w, lo, hi))
	}

	var total int
	step := int16(1)
	if !upward {
		step = -1
	}
	for wordPos := fromWord; ; wordPos += step {
		w := idx.WordAt(wordPos)
		switch wordPos {
		case fromWord:
			if upward {
				total += bitmap.CountRange(&w, fromBit, bitmap.WordBits-1)
			} else {
				total += bitmap.CountRange(&w, 0, fromBit)
			}
		case toWord:
			if upward {
				total += bitmap.CountRange(&w, 0, toBit)
			} else {
				total += bitmap.CountRange(&w, toBit, bitmap.WordBits-1)
			}
			return uint32(total)
		default:
			total += bitmap.PopCount(&w)
		}
	}
}
