// Package bitmap tracks which resolution-aligned boundaries hold resting orders.
//
// Each (resolution, side) pair owns one Index. Boundary b maps to the
// compressed position c = b / resolution; bit c&0xff of word c>>8 is set when
// the boundary holds at least one resting order.
package bitmap

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
)

const WordBits = 256

// Reader is the read-only view the core consumes.
type Reader interface {
	Resolution() int32
	IsInitialized(b int32) (bool, error)
	WordAt(wordPos int16) uint256.Int
}

// Position returns the word index and bit index addressing an aligned boundary.
// b must lie in [MinBoundary, MaxBoundary]; wider values wrap the word index.
// The shift is arithmetic, so negative boundaries land in negative words.
func Position(b, resolution int32) (wordPos int16, bitPos uint8) {
	compressed := b / resolution
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

// BoundaryAt is the inverse of Position.
func BoundaryAt(wordPos int16, bitPos uint8, resolution int32) int32 {
	return (int32(wordPos)<<8 + int32(bitPos)) * resolution
}

// Index is the in-memory bitmap owned by a grid. It is not safe for
// concurrent mutation; the owning grid serializes access.
type Index struct {
	resolution int32
	words      map[int16]*uint256.Int
}

func New(resolution int32) *Index {
	return &Index{
		resolution: resolution,
		words:      make(map[int16]*uint256.Int),
	}
}

func (x *Index) Resolution() int32 { return x.resolution }

func (x *Index) IsInitialized(b int32) (bool, error) {
	if err := boundary.CheckAligned(b, x.resolution); err != nil {
		return false, err
	}
	if err := boundary.CheckRange(b); err != nil {
		return false, err
	}
	wordPos, bitPos := Position(b, x.resolution)
	w, ok := x.words[wordPos]
	if !ok {
		return false, nil
	}
	return TestBit(w, bitPos), nil
}

func (x *Index) WordAt(wordPos int16) uint256.Int {
	if w, ok := x.words[wordPos]; ok {
		return *w
	}
	return uint256.Int{}
}

// Set flags b as holding resting orders.
func (x *Index) Set(b int32) error {
	if err := boundary.CheckAligned(b, x.resolution); err != nil {
		return err
	}
	if err := boundary.CheckRange(b); err != nil {
		return err
	}
	wordPos, bitPos := Position(b, x.resolution)
	w, ok := x.words[wordPos]
	if !ok {
		w = new(uint256.Int)
		x.words[wordPos] = w
	}
	w.Or(w, bitMask(bitPos))
	return nil
}

// Clear unflags b. Empty words are dropped to keep the map sparse.
func (x *Index) Clear(b int32) error {
	if err := boundary.CheckAligned(b, x.resolution); err != nil {
		return err
	}
	if err := boundary.CheckRange(b); err != nil {
		return err
	}
	wordPos, bitPos := Position(b, x.resolution)
	w, ok := x.words[wordPos]
	if !ok {
		return nil
	}
	m := bitMask(bitPos)
	w.And(w, m.Not(m))
	if w.IsZero() {
		delete(x.words, wordPos)
	}
	return nil
}

// SetWord overwrites a whole word. Used when restoring snapshots and by test fixtures.
func (x *Index) SetWord(wordPos int16, w *uint256.Int) {
	if w == nil || w.IsZero() {
		delete(x.words, wordPos)
		return
	}
	x.words[wordPos] = new(uint256.Int).Set(w)
}

// Clone returns a deep copy.
func (x *Index) Clone() *Index {
	out := New(x.resolution)
	for pos, w := range x.words {
		out.words[pos] = new(uint256.Int).Set(w)
	}
	return out
}

// Count returns the number of initialized boundaries.
func (x *Index) Count() int {
	n := 0
	for _, w := range x.words {
		n += PopCount(w)
	}
	return n
}

func (x *Index) String() string {
	return fmt.Sprintf("bitmap(res=%d, words=%d, set=%d)", x.resolution, len(x.words), x.Count())
}

var _ Reader = (*Index)(nil)
