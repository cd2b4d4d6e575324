package bitmap

import (
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
)

func allOnes() *uint256.Int {
	return new(uint256.Int).Not(new(uint256.Int))
}

func bitMask(bitPos uint8) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
}

// TestBit reports whether bit bitPos of w is set.
func TestBit(w *uint256.Int, bitPos uint8) bool {
	return (w[bitPos/64]>>(bitPos%64))&1 == 1
}

// PopCount counts set bits across the four limbs.
func PopCount(w *uint256.Int) int {
	return bits.OnesCount64(w[0]) + bits.OnesCount64(w[1]) +
		bits.OnesCount64(w[2]) + bits.OnesCount64(w[3])
}

// RangeMask has bits lo..hi (inclusive) set.
func RangeMask(lo, hi uint8) *uint256.Int {
	if lo > hi {
		return new(uint256.Int)
	}
	mask := allOnes()
	mask.Lsh(mask, uint(lo))
	upper := allOnes()
	upper.Rsh(upper, uint(WordBits-1-int(hi)))
	return mask.And(mask, upper)
}

// CountRange counts set bits of w within lo..hi inclusive.
func CountRange(w *uint256.Int, lo, hi uint8) int {
	masked := new(uint256.Int).And(w, RangeMask(lo, hi))
	return PopCount(masked)
}

func lowestBit(w *uint256.Int) (uint8, bool) {
	for i := 0; i < 4; i++ {
		if w[i] != 0 {
			return uint8(i*64 + bits.TrailingZeros64(w[i])), true
		}
	}
	return 0, false
}

func highestBit(w *uint256.Int) (uint8, bool) {
	for i := 3; i >= 0; i-- {
		if w[i] != 0 {
			return uint8(i*64 + bits.Len64(w[i]) - 1), true
		}
	}
	return 0, false
}

func wordBounds(resolution int32) (minWord, maxWord int16) {
	minWord, _ = Position(boundary.BoundaryLower(boundary.MinBoundary, resolution), resolution)
	maxWord, _ = Position(boundary.BoundaryLower(boundary.MaxBoundary, resolution), resolution)
	return minWord, maxWord
}

// NextInitialized returns the nearest initialized boundary starting at the
// aligned boundary from (inclusive) and moving up or down one word at a time.
func NextInitialized(r Reader, from int32, upward bool) (int32, bool) {
	res := r.Resolution()
	minWord, maxWord := wordBounds(res)
	wordPos, bitPos := Position(from, res)

	for wordPos >= minWord && wordPos <= maxWord {
		w := r.WordAt(wordPos)
		var masked *uint256.Int
		if upward {
			masked = new(uint256.Int).And(&w, RangeMask(bitPos, WordBits-1))
			if bit, ok := lowestBit(masked); ok {
				return BoundaryAt(wordPos, bit, res), true
			}
			wordPos++
			bitPos = 0
		} else {
			masked = new(uint256.Int).And(&w, RangeMask(0, bitPos))
			if bit, ok := highestBit(masked); ok {
				return BoundaryAt(wordPos, bit, res), true
			}
			wordPos--
			bitPos = WordBits - 1
		}
	}
	return 0, false
}
