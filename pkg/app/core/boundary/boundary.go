// Package boundary converts between boundary indices and Q64.96 prices.
//
// A boundary b addresses the price 1.0001^b. Prices are unsigned fixed-point
// values with 96 fractional bits, so boundary 0 maps to exactly 2^96.
package boundary

import (
	"errors"
	"fmt"
)

const (
	MinBoundary int32 = -527400
	MaxBoundary int32 = 443635
)

// Resolution tiers accepted by the grid registry.
const (
	ResolutionLow    int32 = 1
	ResolutionMedium int32 = 5
	ResolutionHigh   int32 = 30
)

// MaxEncodableResolution is the largest resolution that fits the 3-byte path field.
const MaxEncodableResolution int32 = 1<<23 - 1

var (
	ErrOutOfRange        = errors.New("boundary or price out of range")
	ErrInvalidResolution = errors.New("invalid resolution")
)

// ValidateResolution checks r against the supported tiers.
func ValidateResolution(r int32) error {
	switch r {
	case ResolutionLow, ResolutionMedium, ResolutionHigh:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidResolution, r)
	}
}

// CheckRange returns ErrOutOfRange when b is outside [MinBoundary, MaxBoundary].
func CheckRange(b int32) error {
	if b < MinBoundary || b > MaxBoundary {
		return fmt.Errorf("%w: boundary %d", ErrOutOfRange, b)
	}
	return nil
}

// CheckAligned returns ErrInvalidResolution when b is not a multiple of r.
func CheckAligned(b, r int32) error {
	if r <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidResolution, r)
	}
	if b%r != 0 {
		return fmt.Errorf("%w: boundary %d not aligned to %d", ErrInvalidResolution, b, r)
	}
	return nil
}

// BoundaryLower rounds b down to the nearest multiple of resolution.
// Go's % truncates toward zero, so negative remainders step one cell down.
func BoundaryLower(b, resolution int32) int32 {
	rem := b % resolution
	if rem < 0 {
		rem += resolution
	}
	return b - rem
}

// UpperOf returns lower+resolution and whether it stays inside the domain.
func UpperOf(lower, resolution int32) (int32, bool) {
	upper := int64(lower) + int64(resolution)
	if upper > int64(MaxBoundary) {
		return 0, false
	}
	return int32(upper), true
}
