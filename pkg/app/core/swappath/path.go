// Package swappath encodes multi-hop trade routes.
//
// Wire format: for every hop except the last, token(20) || protocol(1) ||
// resolution(3, big-endian), followed by the final token(20).
package swappath

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
)

const (
	AddrSize       = common.AddressLength
	ProtocolSize   = 1
	ResolutionSize = 3
	// NextOffset is the size of one hop unit: token, protocol and resolution.
	NextOffset = AddrSize + ProtocolSize + ResolutionSize
	// PopOffset is the size of a single-hop path.
	PopOffset = NextOffset + AddrSize
	// MultipleHopsMinLength is the size of a two-hop path.
	MultipleHopsMinLength = PopOffset + NextOffset
)

// ProtocolGrid tags hops executed against a grid.
const ProtocolGrid uint8 = 1

var ErrMalformedPath = errors.New("malformed path")

// Hop is one decoded leg of a path.
type Hop struct {
	TokenIn    common.Address
	TokenOut   common.Address
	Protocol   uint8
	Resolution int32
}

// Validate checks that path has the length of a whole number of hops (at least one).
func Validate(path []byte) error {
	if len(path) < PopOffset || (len(path)-AddrSize)%NextOffset != 0 {
		return fmt.Errorf("%w: length %d", ErrMalformedPath, len(path))
	}
	return nil
}

// NumHops returns the number of hops encoded in path.
func NumHops(path []byte) (int, error) {
	if err := Validate(path); err != nil {
		return 0, err
	}
	return (len(path) - AddrSize) / NextOffset, nil
}

// HasMultipleHops reports whether path encodes more than one hop.
func HasMultipleHops(path []byte) bool {
	return len(path) >= MultipleHopsMinLength
}

// DecodeFirstHop returns the first hop of path.
func DecodeFirstHop(path []byte) (tokenIn, tokenOut common.Address, protocol uint8, resolution int32, err error) {
	if err = Validate(path); err != nil {
		return
	}
	tokenIn = common.BytesToAddress(path[:AddrSize])
	protocol = path[AddrSize]
	r := path[AddrSize+ProtocolSize : NextOffset]
	resolution = int32(r[0])<<16 | int32(r[1])<<8 | int32(r[2])
	tokenOut = common.BytesToAddress(path[NextOffset:PopOffset])
	return
}

// FirstHop is DecodeFirstHop returning a Hop.
func FirstHop(path []byte) (Hop, error) {
	in, out, protocol, res, err := DecodeFirstHop(path)
	if err != nil {
		return Hop{}, err
	}
	return Hop{TokenIn: in, TokenOut: out, Protocol: protocol, Resolution: res}, nil
}

// FirstHopPath returns the encoded single-hop prefix of path.
func FirstHopPath(path []byte) ([]byte, error) {
	if err := Validate(path); err != nil {
		return nil, err
	}
	out := make([]byte, PopOffset)
	copy(out, path[:PopOffset])
	return out, nil
}

// DropFirstToken strips the leading hop unit. On a single-hop path only the
// final token remains.
func DropFirstToken(path []byte) ([]byte, error) {
	if err := Validate(path); err != nil {
		return nil, err
	}
	out := make([]byte, len(path)-NextOffset)
	copy(out, path[NextOffset:])
	return out, nil
}

// Decode walks path hop by hop.
func Decode(path []byte) ([]Hop, error) {
	n, err := NumHops(path)
	if err != nil {
		return nil, err
	}
	hops := make([]Hop, 0, n)
	rest := path
	for {
		hop, err := FirstHop(rest)
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop)
		if !HasMultipleHops(rest) {
			return hops, nil
		}
		rest = rest[NextOffset:]
	}
}

// Encode builds a path from n+1 tokens and n protocols and resolutions.
func Encode(tokens []common.Address, protocols []uint8, resolutions []int32) ([]byte, error) {
	if len(tokens) < 2 || len(resolutions) != len(tokens)-1 || len(protocols) != len(resolutions) {
		return nil, fmt.Errorf("%w: %d tokens, %d protocols, %d resolutions",
			ErrMalformedPath, len(tokens), len(protocols), len(resolutions))
	}

	out := make([]byte, 0, len(resolutions)*NextOffset+AddrSize)
	for i, r := range resolutions {
		if r <= 0 || r > boundary.MaxEncodableResolution {
			return nil, fmt.Errorf("%w: resolution %d does not fit %d bytes", ErrMalformedPath, r, ResolutionSize)
		}
		out = append(out, tokens[i].Bytes()...)
		out = append(out, protocols[i])
		out = append(out, byte(r>>16), byte(r>>8), byte(r))
	}
	return append(out, tokens[len(tokens)-1].Bytes()...), nil
}

// EncodeHops encodes a chain of hops whose adjacent tokens match.
func EncodeHops(hops []Hop) ([]byte, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("%w: no hops", ErrMalformedPath)
	}
	tokens := make([]common.Address, 0, len(hops)+1)
	protocols := make([]uint8, 0, len(hops))
	resolutions := make([]int32, 0, len(hops))
	for i, h := range hops {
		if i > 0 && hops[i-1].TokenOut != h.TokenIn {
			return nil, fmt.Errorf("%w: hop %d starts at %s, previous ends at %s",
				ErrMalformedPath, i, h.TokenIn.Hex(), hops[i-1].TokenOut.Hex())
		}
		tokens = append(tokens, h.TokenIn)
		protocols = append(protocols, h.Protocol)
		resolutions = append(resolutions, h.Resolution)
	}
	tokens = append(tokens, hops[len(hops)-1].TokenOut)
	return Encode(tokens, protocols, resolutions)
}

// Reverse returns the same route encoded from the last token back to the first.
func Reverse(path []byte) ([]byte, error) {
	hops, err := Decode(path)
	if err != nil {
		return nil, err
	}
	rev := make([]Hop, len(hops))
	for i, h := range hops {
		rev[len(hops)-1-i] = Hop{TokenIn: h.TokenOut, TokenOut: h.TokenIn, Protocol: h.Protocol, Resolution: h.Resolution}
	}
	return EncodeHops(rev)
}

// Tokens lists the tokens of path in order.
func Tokens(path []byte) ([]common.Address, error) {
	hops, err := Decode(path)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(hops)+1)
	for _, h := range hops {
		out = append(out, h.TokenIn)
	}
	return append(out, hops[len(hops)-1].TokenOut), nil
}
